package graph

import "time"

// Scene statuses.
const (
	SceneOutlined = "outlined"
	SceneWritten  = "written"
)

// Story is the root node of one story's hierarchy. Created once at intake;
// immutable afterwards except the title held in the session record.
type Story struct {
	StoryID   string    `bson:"story_id" json:"story_id"`
	Title     string    `bson:"title" json:"title"`
	Prompt    string    `bson:"prompt" json:"prompt"`
	Genres    []string  `bson:"genres" json:"genres"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

type Theme struct {
	StoryID     string `bson:"story_id" json:"story_id"`
	Name        string `bson:"name" json:"name"`
	Description string `bson:"description" json:"description"`
}

// Character is a stub until backstory and motivation are filled in by the
// character stage; stub detection keys off backstory completeness.
type Character struct {
	StoryID             string   `bson:"story_id" json:"story_id"`
	Name                string   `bson:"name" json:"name"`
	Backstory           string   `bson:"backstory" json:"backstory"`
	Motivation          string   `bson:"motivation" json:"motivation"`
	Fears               string   `bson:"fears" json:"fears"`
	PersonalityTraits   []string `bson:"personality_traits" json:"personality_traits"`
	PhysicalDescription string   `bson:"physical_description" json:"physical_description"`
	ArcSummary          string   `bson:"character_arc_summary" json:"character_arc_summary"`
}

type Location struct {
	StoryID     string `bson:"story_id" json:"story_id"`
	Name        string `bson:"name" json:"name"`
	Description string `bson:"description" json:"description"`
	Atmosphere  string `bson:"atmosphere" json:"atmosphere"`
}

type Arc struct {
	StoryID string `bson:"story_id" json:"story_id"`
	Title   string `bson:"arc_title" json:"arc_title"`
	Summary string `bson:"summary" json:"summary"`
}

// Chapter belongs to exactly one arc and is ordered by number within it.
type Chapter struct {
	StoryID  string `bson:"story_id" json:"story_id"`
	ArcTitle string `bson:"arc_title" json:"arc_title"`
	Number   int    `bson:"chapter_number" json:"chapter_number"`
	Summary  string `bson:"summary" json:"summary"`
}

// Scene belongs to exactly one chapter. Sequence is the explicit story-wide
// ordering relation used for narrative-continuity lookups.
type Scene struct {
	StoryID       string   `bson:"story_id" json:"story_id"`
	SceneID       string   `bson:"scene_id" json:"scene_id"`
	ChapterNumber int      `bson:"chapter_number" json:"chapter_number"`
	Sequence      int      `bson:"sequence" json:"sequence"`
	BeatSheet     string   `bson:"beat_sheet" json:"beat_sheet"`
	Prose         string   `bson:"prose_content" json:"prose_content"`
	Status        string   `bson:"status" json:"status"`
	Characters    []string `bson:"characters,omitempty" json:"characters,omitempty"`
	LocationName  string   `bson:"location_name,omitempty" json:"location_name,omitempty"`
}

// SceneContext is everything the prose stage needs to write one scene: the
// scene, its ancestors, the characters appearing, the location, and the
// immediately preceding scenes for continuity.
type SceneContext struct {
	Scene          Scene       `json:"scene"`
	Chapter        Chapter     `json:"chapter"`
	Arc            Arc         `json:"arc"`
	Characters     []Character `json:"characters"`
	Location       *Location   `json:"location,omitempty"`
	PreviousScenes []Scene     `json:"previous_scenes"`
}

// Outline is the full structural view of a story.
type Outline struct {
	Story    *Story    `json:"story,omitempty"`
	Arcs     []Arc     `json:"arcs"`
	Chapters []Chapter `json:"chapters"`
	Scenes   []Scene   `json:"scenes"`
}
