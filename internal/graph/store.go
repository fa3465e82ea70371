package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/dotcommander/loom/internal/core"
)

// minBackstoryLen separates fleshed-out characters from stubs awaiting
// development.
const minBackstoryLen = 50

// Store is the structured world-state layer shared by all stages. Every
// write is an upsert keyed by the entity's natural key within its story, so
// a retried stage run converges instead of duplicating.
type Store interface {
	core.StructuredStore

	GetStory(ctx context.Context, storyID string) (*Story, error)
	DeleteStory(ctx context.Context, storyID string) error

	UpsertTheme(ctx context.Context, t Theme) error
	ListThemes(ctx context.Context, storyID string) ([]Theme, error)

	UpsertCharacter(ctx context.Context, c Character) error
	ListCharacters(ctx context.Context, storyID string) ([]Character, error)
	ListCharacterStubs(ctx context.Context, storyID string) ([]Character, error)

	UpsertLocation(ctx context.Context, l Location) error
	ListLocations(ctx context.Context, storyID string) ([]Location, error)

	UpsertArc(ctx context.Context, a Arc) error
	ListArcs(ctx context.Context, storyID string) ([]Arc, error)

	UpsertChapter(ctx context.Context, c Chapter) error
	GetChapter(ctx context.Context, storyID string, number int) (*Chapter, error)

	UpsertScene(ctx context.Context, s Scene) error
	UpdateSceneProse(ctx context.Context, storyID, sceneID, prose, status string) error
	ListScenesByStatus(ctx context.Context, storyID, status string) ([]Scene, error)
	SceneContext(ctx context.Context, storyID, sceneID string) (*SceneContext, error)

	Outline(ctx context.Context, storyID string) (*Outline, error)
	BibleCategory(ctx context.Context, storyID, category string) (any, error)
}

// MongoStore implements Store on a MongoDB database, one collection per
// entity kind.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects and pings before returning so wiring failures
// surface at startup, not mid-run.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) col(name string) *mongo.Collection { return m.db.Collection(name) }

// EnsureStory creates the root story document if it does not exist yet.
// Safe to call on every resume.
func (m *MongoStore) EnsureStory(ctx context.Context, rec *core.StoryRecord) error {
	filter := bson.M{"story_id": rec.ID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"story_id":   rec.ID,
			"title":      rec.Title,
			"prompt":     rec.Prompt,
			"genres":     rec.Genres,
			"created_at": time.Now().UTC(),
		},
	}
	_, err := m.col("stories").UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ensuring story %s: %w", rec.ID, err)
	}
	return nil
}

func (m *MongoStore) GetStory(ctx context.Context, storyID string) (*Story, error) {
	var s Story
	err := m.col("stories").FindOne(ctx, bson.M{"story_id": storyID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("story %s: %w", storyID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading story %s: %w", storyID, err)
	}
	return &s, nil
}

// DeleteStory removes the story and everything hanging off it.
func (m *MongoStore) DeleteStory(ctx context.Context, storyID string) error {
	filter := bson.M{"story_id": storyID}
	for _, name := range []string{"stories", "themes", "characters", "locations", "arcs", "chapters", "scenes"} {
		if _, err := m.col(name).DeleteMany(ctx, filter); err != nil {
			return fmt.Errorf("deleting %s for story %s: %w", name, storyID, err)
		}
	}
	return nil
}

func (m *MongoStore) upsert(ctx context.Context, collection string, filter bson.M, doc any) error {
	_, err := m.col(collection).ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting into %s: %w", collection, err)
	}
	return nil
}

func list[T any](ctx context.Context, c *mongo.Collection, filter bson.M, opts ...*options.FindOptions) ([]T, error) {
	cur, err := c.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", c.Name(), err)
	}
	var out []T
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding %s results: %w", c.Name(), err)
	}
	return out, nil
}

func (m *MongoStore) UpsertTheme(ctx context.Context, t Theme) error {
	return m.upsert(ctx, "themes", bson.M{"story_id": t.StoryID, "name": t.Name}, t)
}

func (m *MongoStore) ListThemes(ctx context.Context, storyID string) ([]Theme, error) {
	return list[Theme](ctx, m.col("themes"), bson.M{"story_id": storyID})
}

func (m *MongoStore) UpsertCharacter(ctx context.Context, c Character) error {
	return m.upsert(ctx, "characters", bson.M{"story_id": c.StoryID, "name": c.Name}, c)
}

func (m *MongoStore) ListCharacters(ctx context.Context, storyID string) ([]Character, error) {
	return list[Character](ctx, m.col("characters"), bson.M{"story_id": storyID})
}

// ListCharacterStubs returns characters whose backstory is missing or too
// short to count as developed.
func (m *MongoStore) ListCharacterStubs(ctx context.Context, storyID string) ([]Character, error) {
	filter := bson.M{
		"story_id": storyID,
		"$or": bson.A{
			bson.M{"backstory": ""},
			bson.M{"backstory": bson.M{"$exists": false}},
			bson.M{"$expr": bson.M{"$lt": bson.A{bson.M{"$strLenCP": "$backstory"}, minBackstoryLen}}},
		},
	}
	return list[Character](ctx, m.col("characters"), filter)
}

func (m *MongoStore) UpsertLocation(ctx context.Context, l Location) error {
	return m.upsert(ctx, "locations", bson.M{"story_id": l.StoryID, "name": l.Name}, l)
}

func (m *MongoStore) ListLocations(ctx context.Context, storyID string) ([]Location, error) {
	return list[Location](ctx, m.col("locations"), bson.M{"story_id": storyID})
}

func (m *MongoStore) UpsertArc(ctx context.Context, a Arc) error {
	return m.upsert(ctx, "arcs", bson.M{"story_id": a.StoryID, "arc_title": a.Title}, a)
}

func (m *MongoStore) ListArcs(ctx context.Context, storyID string) ([]Arc, error) {
	return list[Arc](ctx, m.col("arcs"), bson.M{"story_id": storyID})
}

func (m *MongoStore) UpsertChapter(ctx context.Context, c Chapter) error {
	return m.upsert(ctx, "chapters", bson.M{"story_id": c.StoryID, "chapter_number": c.Number}, c)
}

func (m *MongoStore) GetChapter(ctx context.Context, storyID string, number int) (*Chapter, error) {
	var c Chapter
	err := m.col("chapters").FindOne(ctx, bson.M{"story_id": storyID, "chapter_number": number}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("chapter %d of story %s: %w", number, storyID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading chapter %d of story %s: %w", number, storyID, err)
	}
	return &c, nil
}

func (m *MongoStore) UpsertScene(ctx context.Context, s Scene) error {
	return m.upsert(ctx, "scenes", bson.M{"story_id": s.StoryID, "scene_id": s.SceneID}, s)
}

// ReplaceSceneBeatSheet swaps a scene's plan in place, used when an approved
// deviation overrides the outlined plan.
func (m *MongoStore) ReplaceSceneBeatSheet(ctx context.Context, storyID, sceneID, beatSheet string) error {
	res, err := m.col("scenes").UpdateOne(ctx,
		bson.M{"story_id": storyID, "scene_id": sceneID},
		bson.M{"$set": bson.M{"beat_sheet": beatSheet}})
	if err != nil {
		return fmt.Errorf("replacing beat sheet for scene %s: %w", sceneID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("scene %s: %w", sceneID, core.ErrNotFound)
	}
	return nil
}

func (m *MongoStore) UpdateSceneProse(ctx context.Context, storyID, sceneID, prose, status string) error {
	res, err := m.col("scenes").UpdateOne(ctx,
		bson.M{"story_id": storyID, "scene_id": sceneID},
		bson.M{"$set": bson.M{"prose_content": prose, "status": status}})
	if err != nil {
		return fmt.Errorf("updating prose for scene %s: %w", sceneID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("scene %s: %w", sceneID, core.ErrNotFound)
	}
	return nil
}

// ListScenesByStatus returns scenes in story order.
func (m *MongoStore) ListScenesByStatus(ctx context.Context, storyID, status string) ([]Scene, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}})
	return list[Scene](ctx, m.col("scenes"), bson.M{"story_id": storyID, "status": status}, opts)
}

// SceneContext assembles the writing context for one scene: its chapter and
// arc, the characters on stage, the location, and up to two preceding scenes
// by sequence for continuity.
func (m *MongoStore) SceneContext(ctx context.Context, storyID, sceneID string) (*SceneContext, error) {
	var scene Scene
	err := m.col("scenes").FindOne(ctx, bson.M{"story_id": storyID, "scene_id": sceneID}).Decode(&scene)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("scene %s: %w", sceneID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading scene %s: %w", sceneID, err)
	}

	sc := &SceneContext{Scene: scene}

	chapter, err := m.GetChapter(ctx, storyID, scene.ChapterNumber)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	if chapter != nil {
		sc.Chapter = *chapter
		var arc Arc
		err = m.col("arcs").FindOne(ctx, bson.M{"story_id": storyID, "arc_title": chapter.ArcTitle}).Decode(&arc)
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("loading arc %q: %w", chapter.ArcTitle, err)
		}
		sc.Arc = arc
	}

	charFilter := bson.M{"story_id": storyID}
	if len(scene.Characters) > 0 {
		charFilter["name"] = bson.M{"$in": scene.Characters}
	}
	if sc.Characters, err = list[Character](ctx, m.col("characters"), charFilter); err != nil {
		return nil, err
	}

	if scene.LocationName != "" {
		var loc Location
		err = m.col("locations").FindOne(ctx, bson.M{"story_id": storyID, "name": scene.LocationName}).Decode(&loc)
		if err == nil {
			sc.Location = &loc
		} else if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("loading location %q: %w", scene.LocationName, err)
		}
	}

	prevOpts := options.Find().SetSort(bson.D{{Key: "sequence", Value: -1}}).SetLimit(2)
	prev, err := list[Scene](ctx, m.col("scenes"),
		bson.M{"story_id": storyID, "sequence": bson.M{"$lt": scene.Sequence}}, prevOpts)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(prev)-1; i < j; i, j = i+1, j-1 {
		prev[i], prev[j] = prev[j], prev[i]
	}
	sc.PreviousScenes = prev

	return sc, nil
}

// Outline returns the structural view: arcs, chapters ordered by number,
// scenes ordered by sequence.
func (m *MongoStore) Outline(ctx context.Context, storyID string) (*Outline, error) {
	story, err := m.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	out := &Outline{Story: story}
	if out.Arcs, err = m.ListArcs(ctx, storyID); err != nil {
		return nil, err
	}
	chapterOpts := options.Find().SetSort(bson.D{{Key: "chapter_number", Value: 1}})
	if out.Chapters, err = list[Chapter](ctx, m.col("chapters"), bson.M{"story_id": storyID}, chapterOpts); err != nil {
		return nil, err
	}
	sceneOpts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}})
	if out.Scenes, err = list[Scene](ctx, m.col("scenes"), bson.M{"story_id": storyID}, sceneOpts); err != nil {
		return nil, err
	}
	return out, nil
}

// BibleCategory serves the story-bible read API: one entity kind at a time.
func (m *MongoStore) BibleCategory(ctx context.Context, storyID, category string) (any, error) {
	switch category {
	case "themes":
		return m.ListThemes(ctx, storyID)
	case "characters":
		return m.ListCharacters(ctx, storyID)
	case "locations":
		return m.ListLocations(ctx, storyID)
	case "arcs":
		return m.ListArcs(ctx, storyID)
	default:
		return nil, fmt.Errorf("bible category %q: %w", category, core.ErrNotFound)
	}
}
