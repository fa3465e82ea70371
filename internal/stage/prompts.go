package stage

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dotcommander/loom/internal/graph"
)

const conceptSystem = `You are a story development brainstormer. Given a premise
and genres, produce a core concept for the story. Respond with a single JSON
object of the form:
{"logline": string,
 "themes": [{"name": string, "description": string}],
 "characters": [{"name": string, "physical_description": string,
                 "backstory": string, "motivation": string}],
 "locations": [{"name": string, "description": string, "atmosphere": string}]}
Give each character a one-sentence backstory and a concrete motivation; avoid
placeholders. Return only the JSON object.`

const characterSystem = `You are a character developer. Given a story concept
and a character stub, write the character's full profile. Respond with a single
JSON object of the form:
{"backstory": string, "motivation": string, "fears": string,
 "personality_traits": [string], "character_arc_summary": string}
Be concrete and specific; avoid placeholders. Return only the JSON object.`

const arcsSystem = `You are a story architect. Given a story concept, design
its narrative arcs in order. Respond with a single JSON object of the form:
{"arcs": [{"arc_title": string, "summary": string}]}
Return only the JSON object.`

const chaptersSystem = `You are a story architect. Given one narrative arc,
break it into chapters in order. Respond with a single JSON object of the form:
{"chapters": [{"summary": string}]}
Return only the JSON object.`

const scenesSystem = `You are a story architect. Given one chapter, break it
into scenes in order. Respond with a single JSON object of the form:
{"scenes": [{"beat_sheet": string, "characters": [string], "location": string}]}
Return only the JSON object.`

const briefSystem = `You are a scene director. Expand the beat sheet into a
detailed writing brief for this scene: goal, conflict, emotional turn, and how
it connects to the previous scenes. Respond in plain prose.`

const reviewSystem = `You are a story editor reviewing a scene plan before it
is written. If the plan serves the story, reply APPROVED and nothing else. If
you believe a different plan would serve the story better, explain the
replacement plan you propose and why.`

const draftSystem = `You are a novelist. Write the full prose of this scene,
following the brief faithfully. Respond with prose only.`

const dialogueSystem = `You are a dialogue specialist. Rework the dialogue in
this draft so each character's voice is distinct and consistent with their
profile. Return the complete revised scene.`

const polishSystem = `You are a line editor. Polish this scene's prose for
rhythm, clarity, and continuity with the preceding scenes. Return the complete
final scene.`

func storyHeader(s *graph.Story) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", s.Title)
	fmt.Fprintf(&b, "Premise: %s\n", s.Prompt)
	if len(s.Genres) > 0 {
		fmt.Fprintf(&b, "Genres: %s\n", strings.Join(s.Genres, ", "))
	}
	return b.String()
}

func characterPrompt(story *graph.Story, stub graph.Character, feedback string) string {
	var b strings.Builder
	b.WriteString(storyHeader(story))
	fmt.Fprintf(&b, "\nCharacter: %s\n", stub.Name)
	if stub.PhysicalDescription != "" {
		fmt.Fprintf(&b, "Appearance: %s\n", stub.PhysicalDescription)
	}
	if feedback != "" {
		fmt.Fprintf(&b, "\nThe author has given this guidance, follow it:\n%s\n", feedback)
	}
	return b.String()
}

func chapterPrompt(story *graph.Story, arc graph.Arc) string {
	var b strings.Builder
	b.WriteString(storyHeader(story))
	fmt.Fprintf(&b, "\nArc: %s\n%s\n", arc.Title, arc.Summary)
	return b.String()
}

func scenesPrompt(story *graph.Story, arc graph.Arc, chapter graph.Chapter) string {
	var b strings.Builder
	b.WriteString(storyHeader(story))
	fmt.Fprintf(&b, "\nArc: %s\n%s\n", arc.Title, arc.Summary)
	fmt.Fprintf(&b, "\nChapter %d: %s\n", chapter.Number, chapter.Summary)
	return b.String()
}

func sceneContextPrompt(sc *graph.SceneContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Arc: %s\n%s\n", sc.Arc.Title, sc.Arc.Summary)
	fmt.Fprintf(&b, "Chapter %d: %s\n", sc.Chapter.Number, sc.Chapter.Summary)
	fmt.Fprintf(&b, "\nScene beat sheet:\n%s\n", sc.Scene.BeatSheet)
	if sc.Location != nil {
		fmt.Fprintf(&b, "\nLocation: %s. %s Atmosphere: %s\n",
			sc.Location.Name, sc.Location.Description, sc.Location.Atmosphere)
	}
	if len(sc.Characters) > 0 {
		b.WriteString("\nCharacters on stage:\n")
		for _, c := range sc.Characters {
			fmt.Fprintf(&b, "- %s: motivation %q; fears %q. %s\n",
				c.Name, c.Motivation, c.Fears, c.ArcSummary)
		}
	}
	if len(sc.PreviousScenes) > 0 {
		b.WriteString("\nPreceding scenes, for continuity:\n")
		for _, p := range sc.PreviousScenes {
			fmt.Fprintf(&b, "--- scene %s ---\n%s\n", p.SceneID, tail(p.Prose, 1200))
		}
	}
	return b.String()
}

// tail returns the last n bytes of s on a rune boundary; continuity needs the
// end of the previous scene, not its opening.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[len(s)-n:]
	for i := 0; i < len(cut); i++ {
		if utf8.RuneStart(cut[i]) {
			return cut[i:]
		}
	}
	return cut
}
