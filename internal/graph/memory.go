package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dotcommander/loom/internal/core"
)

// MemoryStore is an in-process Store for tests and local development. It
// mirrors MongoStore's upsert-by-natural-key semantics.
type MemoryStore struct {
	mu         sync.Mutex
	stories    map[string]*Story
	themes     map[string][]Theme
	characters map[string][]Character
	locations  map[string][]Location
	arcs       map[string][]Arc
	chapters   map[string][]Chapter
	scenes     map[string][]Scene
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stories:    make(map[string]*Story),
		themes:     make(map[string][]Theme),
		characters: make(map[string][]Character),
		locations:  make(map[string][]Location),
		arcs:       make(map[string][]Arc),
		chapters:   make(map[string][]Chapter),
		scenes:     make(map[string][]Scene),
	}
}

func (m *MemoryStore) EnsureStory(_ context.Context, rec *core.StoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stories[rec.ID]; ok {
		return nil
	}
	m.stories[rec.ID] = &Story{
		StoryID:   rec.ID,
		Title:     rec.Title,
		Prompt:    rec.Prompt,
		Genres:    rec.Genres,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (m *MemoryStore) GetStory(_ context.Context, storyID string) (*Story, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stories[storyID]
	if !ok {
		return nil, fmt.Errorf("story %s: %w", storyID, core.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) DeleteStory(_ context.Context, storyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stories, storyID)
	delete(m.themes, storyID)
	delete(m.characters, storyID)
	delete(m.locations, storyID)
	delete(m.arcs, storyID)
	delete(m.chapters, storyID)
	delete(m.scenes, storyID)
	return nil
}

func upsertByKey[T any](items []T, item T, match func(T) bool) []T {
	for i := range items {
		if match(items[i]) {
			items[i] = item
			return items
		}
	}
	return append(items, item)
}

func (m *MemoryStore) UpsertTheme(_ context.Context, t Theme) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.themes[t.StoryID] = upsertByKey(m.themes[t.StoryID], t, func(x Theme) bool { return x.Name == t.Name })
	return nil
}

func (m *MemoryStore) ListThemes(_ context.Context, storyID string) ([]Theme, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Theme(nil), m.themes[storyID]...), nil
}

func (m *MemoryStore) UpsertCharacter(_ context.Context, c Character) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.characters[c.StoryID] = upsertByKey(m.characters[c.StoryID], c, func(x Character) bool { return x.Name == c.Name })
	return nil
}

func (m *MemoryStore) ListCharacters(_ context.Context, storyID string) ([]Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Character(nil), m.characters[storyID]...), nil
}

func (m *MemoryStore) ListCharacterStubs(_ context.Context, storyID string) ([]Character, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stubs []Character
	for _, c := range m.characters[storyID] {
		if len(c.Backstory) < minBackstoryLen {
			stubs = append(stubs, c)
		}
	}
	return stubs, nil
}

func (m *MemoryStore) UpsertLocation(_ context.Context, l Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[l.StoryID] = upsertByKey(m.locations[l.StoryID], l, func(x Location) bool { return x.Name == l.Name })
	return nil
}

func (m *MemoryStore) ListLocations(_ context.Context, storyID string) ([]Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Location(nil), m.locations[storyID]...), nil
}

func (m *MemoryStore) UpsertArc(_ context.Context, a Arc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arcs[a.StoryID] = upsertByKey(m.arcs[a.StoryID], a, func(x Arc) bool { return x.Title == a.Title })
	return nil
}

func (m *MemoryStore) ListArcs(_ context.Context, storyID string) ([]Arc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Arc(nil), m.arcs[storyID]...), nil
}

func (m *MemoryStore) UpsertChapter(_ context.Context, c Chapter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chapters[c.StoryID] = upsertByKey(m.chapters[c.StoryID], c, func(x Chapter) bool { return x.Number == c.Number })
	return nil
}

func (m *MemoryStore) GetChapter(_ context.Context, storyID string, number int) (*Chapter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chapters[storyID] {
		if c.Number == number {
			cp := c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("chapter %d of story %s: %w", number, storyID, core.ErrNotFound)
}

func (m *MemoryStore) UpsertScene(_ context.Context, s Scene) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenes[s.StoryID] = upsertByKey(m.scenes[s.StoryID], s, func(x Scene) bool { return x.SceneID == s.SceneID })
	return nil
}

func (m *MemoryStore) ReplaceSceneBeatSheet(_ context.Context, storyID, sceneID, beatSheet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.scenes[storyID] {
		if m.scenes[storyID][i].SceneID == sceneID {
			m.scenes[storyID][i].BeatSheet = beatSheet
			return nil
		}
	}
	return fmt.Errorf("scene %s: %w", sceneID, core.ErrNotFound)
}

func (m *MemoryStore) UpdateSceneProse(_ context.Context, storyID, sceneID, prose, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.scenes[storyID] {
		if m.scenes[storyID][i].SceneID == sceneID {
			m.scenes[storyID][i].Prose = prose
			m.scenes[storyID][i].Status = status
			return nil
		}
	}
	return fmt.Errorf("scene %s: %w", sceneID, core.ErrNotFound)
}

func (m *MemoryStore) ListScenesByStatus(_ context.Context, storyID, status string) ([]Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Scene
	for _, s := range m.scenes[storyID] {
		if s.Status == status {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *MemoryStore) SceneContext(ctx context.Context, storyID, sceneID string) (*SceneContext, error) {
	m.mu.Lock()
	var scene *Scene
	for i := range m.scenes[storyID] {
		if m.scenes[storyID][i].SceneID == sceneID {
			cp := m.scenes[storyID][i]
			scene = &cp
			break
		}
	}
	m.mu.Unlock()
	if scene == nil {
		return nil, fmt.Errorf("scene %s: %w", sceneID, core.ErrNotFound)
	}

	sc := &SceneContext{Scene: *scene}
	if ch, err := m.GetChapter(ctx, storyID, scene.ChapterNumber); err == nil {
		sc.Chapter = *ch
		arcs, _ := m.ListArcs(ctx, storyID)
		for _, a := range arcs {
			if a.Title == ch.ArcTitle {
				sc.Arc = a
				break
			}
		}
	}

	chars, _ := m.ListCharacters(ctx, storyID)
	if len(scene.Characters) == 0 {
		sc.Characters = chars
	} else {
		named := make(map[string]bool, len(scene.Characters))
		for _, n := range scene.Characters {
			named[n] = true
		}
		for _, c := range chars {
			if named[c.Name] {
				sc.Characters = append(sc.Characters, c)
			}
		}
	}

	if scene.LocationName != "" {
		locs, _ := m.ListLocations(ctx, storyID)
		for _, l := range locs {
			if l.Name == scene.LocationName {
				cp := l
				sc.Location = &cp
				break
			}
		}
	}

	m.mu.Lock()
	var prev []Scene
	for _, s := range m.scenes[storyID] {
		if s.Sequence < scene.Sequence {
			prev = append(prev, s)
		}
	}
	m.mu.Unlock()
	sort.Slice(prev, func(i, j int) bool { return prev[i].Sequence < prev[j].Sequence })
	if len(prev) > 2 {
		prev = prev[len(prev)-2:]
	}
	sc.PreviousScenes = prev

	return sc, nil
}

func (m *MemoryStore) Outline(ctx context.Context, storyID string) (*Outline, error) {
	story, err := m.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	out := &Outline{Story: story}
	out.Arcs, _ = m.ListArcs(ctx, storyID)

	m.mu.Lock()
	out.Chapters = append([]Chapter(nil), m.chapters[storyID]...)
	out.Scenes = append([]Scene(nil), m.scenes[storyID]...)
	m.mu.Unlock()

	sort.Slice(out.Chapters, func(i, j int) bool { return out.Chapters[i].Number < out.Chapters[j].Number })
	sort.Slice(out.Scenes, func(i, j int) bool { return out.Scenes[i].Sequence < out.Scenes[j].Sequence })
	return out, nil
}

func (m *MemoryStore) BibleCategory(ctx context.Context, storyID, category string) (any, error) {
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
