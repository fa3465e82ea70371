package stage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dotcommander/loom/internal/core"
	"github.com/dotcommander/loom/internal/graph"
)

const structureAgent = "architect"

// Structure consumes the head of the task queue and fans the story hierarchy
// out one level: arcs produce chapter tasks, chapters produce scene tasks,
// scene tasks produce outlined scenes. Each expansion suspends for approval
// of the level it just produced.
type Structure struct {
	store  graph.Store
	gen    core.Generator
	logger *slog.Logger
}

func NewStructure(store graph.Store, gen core.Generator, logger *slog.Logger) *Structure {
	return &Structure{store: store, gen: gen, logger: logger.With("stage", structureAgent)}
}

func (s *Structure) Name() string { return structureAgent }

func (s *Structure) Run(ctx context.Context, state core.ControlState) (core.Delta, error) {
	task, ok := state.TaskQueue.PeekHead()
	if !ok {
		return failure(structureAgent, "architect invoked with an empty task queue"), nil
	}

	story, err := s.store.GetStory(ctx, state.StoryID)
	if err != nil {
		return core.Delta{}, core.Transient("loading story", err)
	}

	switch task.Kind {
	case core.TaskGenerateArcs:
		return s.generateArcs(ctx, state, story)
	case core.TaskGenerateChapters:
		return s.generateChapters(ctx, state, story, task)
	case core.TaskGenerateScenes:
		return s.generateScenes(ctx, state, story, task)
	default:
		return failure(structureAgent, fmt.Sprintf("unknown task kind %q", task.Kind)), nil
	}
}

type arcsPayload struct {
	Arcs []struct {
		Title   string `json:"arc_title"`
		Summary string `json:"summary"`
	} `json:"arcs"`
}

func (s *Structure) generateArcs(ctx context.Context, state core.ControlState, story *graph.Story) (core.Delta, error) {
	raw, err := s.gen.GenerateJSON(ctx, arcsSystem, storyHeader(story))
	if err != nil {
		return core.Delta{}, core.Transient("generating arcs", err)
	}
	var payload arcsPayload
	if err := decode("decoding arcs", raw, &payload); err != nil {
		return core.Delta{}, err
	}
	if len(payload.Arcs) == 0 {
		return failure(structureAgent, "arc generation returned no arcs"), nil
	}

	var tasks []core.Task
	for _, a := range payload.Arcs {
		arc := graph.Arc{StoryID: state.StoryID, Title: a.Title, Summary: a.Summary}
		if err := s.store.UpsertArc(ctx, arc); err != nil {
			return core.Delta{}, core.Transient("storing arc", err)
		}
		tasks = append(tasks, core.Task{Kind: core.TaskGenerateChapters, ArcTitle: a.Title})
	}

	s.logger.Info("arcs generated", "story_id", state.StoryID, "arcs", len(payload.Arcs))

	return core.Delta{
		Status:    core.StatusAwaitingArcsApproval,
		PopHead:   true,
		PushTasks: tasks,
		Log: []core.LogEntry{
			step(structureAgent, fmt.Sprintf("Designed %d narrative arcs", len(payload.Arcs))),
		},
	}, nil
}

type chaptersPayload struct {
	Chapters []struct {
		Summary string `json:"summary"`
	} `json:"chapters"`
}

func (s *Structure) generateChapters(ctx context.Context, state core.ControlState, story *graph.Story, task core.Task) (core.Delta, error) {
	arc, err := s.findArc(ctx, state.StoryID, task.ArcTitle)
	if err != nil {
		return core.Delta{}, err
	}
	if arc == nil {
		return failure(structureAgent, fmt.Sprintf("chapter task references unknown arc %q", task.ArcTitle)), nil
	}

	raw, err := s.gen.GenerateJSON(ctx, chaptersSystem, chapterPrompt(story, *arc))
	if err != nil {
		return core.Delta{}, core.Transient("generating chapters", err)
	}
	var payload chaptersPayload
	if err := decode("decoding chapters", raw, &payload); err != nil {
		return core.Delta{}, err
	}
	if len(payload.Chapters) == 0 {
		return failure(structureAgent, fmt.Sprintf("chapter generation returned no chapters for arc %q", arc.Title)), nil
	}

	// Chapter numbers are story-wide and continue from earlier arcs. Chapters
	// already stored for this arc are excluded from the base so a retried task
	// re-derives the same numbers and overwrites its own chapters in place.
	outline, err := s.store.Outline(ctx, state.StoryID)
	if err != nil {
		return core.Delta{}, core.Transient("loading outline", err)
	}
	base := 0
	for _, c := range outline.Chapters {
		if c.ArcTitle == arc.Title {
			continue
		}
		if c.Number > base {
			base = c.Number
		}
	}

	var tasks []core.Task
	for i, c := range payload.Chapters {
		chapter := graph.Chapter{
			StoryID:  state.StoryID,
			ArcTitle: arc.Title,
			Number:   base + i + 1,
			Summary:  c.Summary,
		}
		if err := s.store.UpsertChapter(ctx, chapter); err != nil {
			return core.Delta{}, core.Transient("storing chapter", err)
		}
		tasks = append(tasks, core.Task{
			Kind:          core.TaskGenerateScenes,
			ArcTitle:      arc.Title,
			ChapterNumber: chapter.Number,
		})
	}

	s.logger.Info("chapters generated",
		"story_id", state.StoryID, "arc", arc.Title, "chapters", len(payload.Chapters))

	// Chapter-level knowledge supersedes any coarser scene tasks queued for
	// this arc before its chapters were known.
	arcTitle := arc.Title
	return core.Delta{
		Status:  core.StatusAwaitingChaptersApproval,
		PopHead: true,
		Supersede: func(t core.Task) bool {
			return t.Kind == core.TaskGenerateScenes && t.ArcTitle == arcTitle && t.ChapterNumber == 0
		},
		PushTasks: tasks,
		Log: []core.LogEntry{
			step(structureAgent, fmt.Sprintf("Broke arc %q into %d chapters", arc.Title, len(payload.Chapters))),
		},
	}, nil
}

type scenesPayload struct {
	Scenes []struct {
		BeatSheet  string   `json:"beat_sheet"`
		Characters []string `json:"characters"`
		Location   string   `json:"location"`
	} `json:"scenes"`
}

func (s *Structure) generateScenes(ctx context.Context, state core.ControlState, story *graph.Story, task core.Task) (core.Delta, error) {
	chapter, err := s.store.GetChapter(ctx, state.StoryID, task.ChapterNumber)
	if err != nil {
		return core.Delta{}, core.Transient("loading chapter", err)
	}
	arc, err := s.findArc(ctx, state.StoryID, chapter.ArcTitle)
	if err != nil {
		return core.Delta{}, err
	}
	if arc == nil {
		return failure(structureAgent, fmt.Sprintf("chapter %d references unknown arc %q", chapter.Number, chapter.ArcTitle)), nil
	}

	raw, err := s.gen.GenerateJSON(ctx, scenesSystem, scenesPrompt(story, *arc, *chapter))
	if err != nil {
		return core.Delta{}, core.Transient("generating scenes", err)
	}
	var payload scenesPayload
	if err := decode("decoding scenes", raw, &payload); err != nil {
		return core.Delta{}, err
	}
	if len(payload.Scenes) == 0 {
		return failure(structureAgent, fmt.Sprintf("scene generation returned no scenes for chapter %d", chapter.Number)), nil
	}

	for i, sc := range payload.Scenes {
		scene := graph.Scene{
			StoryID:       state.StoryID,
			SceneID:       fmt.Sprintf("ch%d_scene%d", chapter.Number, i+1),
			ChapterNumber: chapter.Number,
			Sequence:      chapter.Number*100 + i,
			BeatSheet:     sc.BeatSheet,
			Status:        graph.SceneOutlined,
			Characters:    sc.Characters,
			LocationName:  sc.Location,
		}
		if err := s.store.UpsertScene(ctx, scene); err != nil {
			return core.Delta{}, core.Transient("storing scene", err)
		}
	}

	s.logger.Info("scenes outlined",
		"story_id", state.StoryID, "chapter", chapter.Number, "scenes", len(payload.Scenes))

	// Once the last scene batch is outlined the structure is complete and
	// writing can begin; otherwise suspend for approval of this batch.
	remaining := 0
	for _, t := range state.TaskQueue[1:] {
		if t.Kind == core.TaskGenerateScenes {
			remaining++
		}
	}
	status := core.StatusAwaitingScenesApproval
	logMsg := fmt.Sprintf("Outlined %d scenes for chapter %d", len(payload.Scenes), chapter.Number)
	if remaining == 0 {
		status = core.StatusReadyForWriting
		logMsg = fmt.Sprintf("Outlined %d scenes for chapter %d; structure complete, ready for writing", len(payload.Scenes), chapter.Number)
	}
	return core.Delta{
		Status:  status,
		PopHead: true,
		Log:     []core.LogEntry{step(structureAgent, logMsg)},
	}, nil
}

func (s *Structure) findArc(ctx context.Context, storyID, title string) (*graph.Arc, error) {
	arcs, err := s.store.ListArcs(ctx, storyID)
	if err != nil {
		return nil, core.Transient("listing arcs", err)
	}
	for _, a := range arcs {
		if a.Title == title {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}
