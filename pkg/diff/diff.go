// Package diff compares a stored story record with a reprocessed one.
package diff

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/aryann/difflib"

	"storyloom/pkg/schema"
	"storyloom/pkg/utils"
)

type ChangeType int

const (
	Unchanged ChangeType = iota
	Added
	Removed
	Modified
)

type Op int

const (
	Equal Op = iota
	Insert
	Delete
)

// fuzzyThreshold is the similarity above which two unpaired items are
// treated as edits of each other.
const fuzzyThreshold = 0.70

type WordDelta struct {
	Op   Op
	Text string
}

type StringDiff struct {
	Old    string
	New    string
	Deltas []WordDelta
}

type FieldDiff struct {
	Path string
	Str  StringDiff
}

type AssetDiff struct {
	Name       string
	State      ChangeType
	FieldDiffs []FieldDiff
}

type SceneChange struct {
	Index      int
	Key        string
	State      ChangeType
	FieldDiffs []FieldDiff
}

type StoryDiff struct {
	Fields       []FieldDiff
	Characters   []AssetDiff
	Environments []AssetDiff
	Scenes       []SceneChange
}

// Stories diffs the top-level fields, both asset tables and the scene list.
func Stories(oldS, newS schema.Story) StoryDiff {
	var fd []FieldDiff
	addFieldDiff := func(path, a, b string) {
		if a == b {
			return
		}
		fd = append(fd, FieldDiff{Path: path, Str: strDiff(a, b)})
	}
	addFieldDiff("Title", oldS.Title, newS.Title)
	addFieldDiff("Language", oldS.Language, newS.Language)
	addFieldDiff("StoryOriginal", oldS.StoryOriginal, newS.StoryOriginal)
	addFieldDiff("StoryEnglish", oldS.StoryEnglish, newS.StoryEnglish)
	addFieldDiff("ContextTags", strings.Join(oldS.ContextTags, ", "), strings.Join(newS.ContextTags, ", "))

	return StoryDiff{
		Fields:       fd,
		Characters:   Assets(oldS.Characters, newS.Characters),
		Environments: Assets(oldS.Environments, newS.Environments),
		Scenes:       Scenes(oldS.Scenes, newS.Scenes),
	}
}

// Empty reports whether nothing changed.
func (d StoryDiff) Empty() bool {
	if len(d.Fields) > 0 {
		return false
	}
	for _, a := range slices.Concat(d.Characters, d.Environments) {
		if a.State != Unchanged {
			return false
		}
	}
	for _, s := range d.Scenes {
		if s.State != Unchanged {
			return false
		}
	}
	return true
}

// Counts returns added, removed and modified totals across assets and scenes.
func (d StoryDiff) Counts() (added, removed, modified int) {
	count := func(state ChangeType) {
		switch state {
		case Added:
			added++
		case Removed:
			removed++
		case Modified:
			modified++
		}
	}
	for _, a := range slices.Concat(d.Characters, d.Environments) {
		count(a.State)
	}
	for _, s := range d.Scenes {
		count(s.State)
	}
	return
}

// Assets pairs assets by display name, then by name similarity.
func Assets(oldA, newA []schema.Asset) []AssetDiff {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

	oUsed := make([]bool, len(oldA))
	nUsed := make([]bool, len(newA))
	var out []AssetDiff

	for i, o := range oldA {
		for j, n := range newA {
			if nUsed[j] || norm(o.DisplayName()) != norm(n.DisplayName()) {
				continue
			}
			out = append(out, pairAssets(o, n))
			oUsed[i], nUsed[j] = true, true
			break
		}
	}
	for i, o := range oldA {
		if oUsed[i] {
			continue
		}
		bestJ, best := -1, 0.0
		for j, n := range newA {
			if nUsed[j] {
				continue
			}
			if s := utils.Similarity(o.DisplayName(), n.DisplayName()); s > best {
				bestJ, best = j, s
			}
		}
		if bestJ >= 0 && best >= fuzzyThreshold {
			d := pairAssets(o, newA[bestJ])
			d.State = Modified
			out = append(out, d)
			oUsed[i], nUsed[bestJ] = true, true
		}
	}
	for i, o := range oldA {
		if !oUsed[i] {
			out = append(out, AssetDiff{Name: o.DisplayName(), State: Removed})
		}
	}
	for j, n := range newA {
		if !nUsed[j] {
			out = append(out, AssetDiff{
				Name:  n.DisplayName(),
				State: Added,
				FieldDiffs: []FieldDiff{
					{Path: "Name", Str: strEq("", n.Name)},
					{Path: "Description", Str: strEq("", n.Description)},
				},
			})
		}
	}
	slices.SortFunc(out, func(a, b AssetDiff) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func pairAssets(o, n schema.Asset) AssetDiff {
	var fd []FieldDiff
	addFieldDiff := func(path, a, b string) {
		if a == b {
			return
		}
		fd = append(fd, FieldDiff{Path: path, Str: strDiff(a, b)})
	}
	addFieldDiff("Name", o.Name, n.Name)
	addFieldDiff("Description", o.Description, n.Description)
	addFieldDiff("NameEnglish", o.NameEnglish, n.NameEnglish)
	addFieldDiff("DescriptionEnglish", o.DescriptionEnglish, n.DescriptionEnglish)

	state := Unchanged
	if len(fd) > 0 {
		state = Modified
	}
	return AssetDiff{Name: n.DisplayName(), State: state, FieldDiffs: fd}
}

// Scenes pairs scenes by English caption, then by caption similarity.
func Scenes(oldS, newS []schema.Scene) []SceneChange {
	oUsed := make([]bool, len(oldS))
	nUsed := make([]bool, len(newS))
	var out []SceneChange

	// pair by exact caption first
	for i := range oldS {
		for j := range newS {
			if nUsed[j] || sceneKey(oldS[i]) != sceneKey(newS[j]) {
				continue
			}
			fd := sceneFieldDiffs(oldS[i], newS[j])
			state := Unchanged
			if len(fd) > 0 {
				state = Modified
			}
			out = append(out, SceneChange{Index: j, Key: sceneKey(newS[j]), State: state, FieldDiffs: fd})
			oUsed[i], nUsed[j] = true, true
			break
		}
	}
	// fuzzy match by caption similarity
	for i := range oldS {
		if oUsed[i] {
			continue
		}
		bestJ, best := -1, 0.0
		for j := range newS {
			if nUsed[j] {
				continue
			}
			if s := utils.Similarity(oldS[i].DisplayCaptionEnglish(), newS[j].DisplayCaptionEnglish()); s > best {
				bestJ, best = j, s
			}
		}
		if bestJ >= 0 && best >= fuzzyThreshold {
			out = append(out, SceneChange{Index: bestJ, Key: sceneKey(newS[bestJ]), State: Modified, FieldDiffs: sceneFieldDiffs(oldS[i], newS[bestJ])})
			oUsed[i], nUsed[bestJ] = true, true
		}
	}
	for i := range oldS {
		if !oUsed[i] {
			out = append(out, SceneChange{Index: i, Key: sceneKey(oldS[i]), State: Removed})
		}
	}
	for j := range newS {
		if !nUsed[j] {
			s := newS[j]
			out = append(out, SceneChange{
				Index: j,
				Key:   sceneKey(s),
				State: Added,
				FieldDiffs: []FieldDiff{
					{Path: "Caption", Str: strEq("", s.DisplayCaptionEnglish())},
					{Path: "Environment", Str: strEq("", s.Environment)},
				},
			})
		}
	}
	slices.SortStableFunc(out, func(a, b SceneChange) int {
		if c := cmp.Compare(a.Index, b.Index); c != 0 {
			return c
		}
		return cmp.Compare(a.State, b.State)
	})
	return out
}

func sceneKey(s schema.Scene) string {
	k := s.DisplayCaptionEnglish()
	if k == "" {
		return "(blank)"
	}
	return k
}

func sceneFieldDiffs(a, b schema.Scene) []FieldDiff {
	var fd []FieldDiff
	if a.DisplayCaptionEnglish() != b.DisplayCaptionEnglish() {
		fd = append(fd, FieldDiff{Path: "Caption", Str: strDiff(a.DisplayCaptionEnglish(), b.DisplayCaptionEnglish())})
	}
	if a.DisplayCaptionOriginal() != b.DisplayCaptionOriginal() {
		fd = append(fd, FieldDiff{Path: "CaptionOriginal", Str: strDiff(a.DisplayCaptionOriginal(), b.DisplayCaptionOriginal())})
	}
	if a.Environment != b.Environment {
		fd = append(fd, FieldDiff{Path: "Environment", Str: strDiff(a.Environment, b.Environment)})
	}
	if ac, bc := strings.Join(a.Characters, ", "), strings.Join(b.Characters, ", "); ac != bc {
		fd = append(fd, FieldDiff{Path: "Characters", Str: strDiff(ac, bc)})
	}
	return fd
}

func strEq(a, b string) StringDiff {
	return StringDiff{Old: a, New: b, Deltas: []WordDelta{{Op: Insert, Text: b}}}
}

func strDiff(a, b string) StringDiff {
	if a == b {
		return StringDiff{Old: a, New: b, Deltas: []WordDelta{{Op: Equal, Text: a}}}
	}
	at := utils.TokenizeWords(a)
	bt := utils.TokenizeWords(b)
	recs := difflib.Diff(at, bt)
	deltas := make([]WordDelta, 0, len(recs))
	for _, r := range recs {
		switch r.Delta {
		case difflib.Common:
			deltas = append(deltas, WordDelta{Op: Equal, Text: r.Payload})
		case difflib.LeftOnly:
			deltas = append(deltas, WordDelta{Op: Delete, Text: r.Payload})
		case difflib.RightOnly:
			deltas = append(deltas, WordDelta{Op: Insert, Text: r.Payload})
		}
	}
	return StringDiff{Old: a, New: b, Deltas: coalesceSpaces(deltas)}
}

// coalesceSpaces merges runs of the same op, folding whitespace-only equal
// tokens into the surrounding run.
func coalesceSpaces(in []WordDelta) []WordDelta {
	out := make([]WordDelta, 0, len(in))
	flush := func(op Op, buf *strings.Builder) {
		if buf.Len() == 0 {
			return
		}
		out = append(out, WordDelta{Op: op, Text: buf.String()})
		buf.Reset()
	}
	var curOp Op = -1
	var buf strings.Builder
	for _, d := range in {
		if strings.TrimSpace(d.Text) == "" && d.Op == Equal {
			buf.WriteString(d.Text)
			continue
		}
		if curOp != d.Op && curOp != -1 {
			flush(curOp, &buf)
		}
		curOp = d.Op
		buf.WriteString(d.Text)
	}
	flush(curOp, &buf)
	return out
}

const (
	ansiReset = "\x1b[0m"
	fgGreen   = "\x1b[32m"
	fgRed     = "\x1b[31m"
	fgYellow  = "\x1b[33m"
	fgCyan    = "\x1b[36m"
	faint     = "\x1b[2m"
	uline     = "\x1b[4m"
	strike    = "\x1b[9m"
)

var stateTags = map[ChangeType]string{
	Added:     fgGreen + "[+]" + ansiReset,
	Removed:   fgRed + "[-]" + ansiReset,
	Modified:  fgYellow + "[~]" + ansiReset,
	Unchanged: faint + "[=]" + ansiReset,
}

// Render returns the word deltas with ANSI insert/delete styling.
func (sd StringDiff) Render() string {
	var b strings.Builder
	for _, d := range sd.Deltas {
		switch d.Op {
		case Equal:
			b.WriteString(d.Text)
		case Insert:
			fmt.Fprintf(&b, "%s%s%s%s", fgGreen, uline, d.Text, ansiReset)
		case Delete:
			fmt.Fprintf(&b, "%s%s%s%s", fgRed, strike, d.Text, ansiReset)
		}
	}
	return b.String()
}

// Print writes a colored report. Unchanged entries are listed faintly.
func (d StoryDiff) Print(w io.Writer) {
	if len(d.Fields) > 0 {
		fmt.Fprintln(w, fgCyan+"Story"+ansiReset)
		for _, f := range d.Fields {
			fmt.Fprintf(w, "  %s: %s\n", f.Path, f.Str.Render())
		}
	}
	printAssets(w, "Characters", d.Characters)
	printAssets(w, "Environments", d.Environments)
	if len(d.Scenes) > 0 {
		fmt.Fprintln(w, fgCyan+"Scenes"+ansiReset)
		for _, s := range d.Scenes {
			fmt.Fprintf(w, "  %s #%d %s\n", stateTags[s.State], s.Index+1, utils.LimitStr(s.Key, 60))
			for _, f := range s.FieldDiffs {
				fmt.Fprintf(w, "    %s: %s\n", f.Path, f.Str.Render())
			}
		}
	}
}

func printAssets(w io.Writer, title string, list []AssetDiff) {
	if len(list) == 0 {
		return
	}
	fmt.Fprintln(w, fgCyan+title+ansiReset)
	for _, a := range list {
		fmt.Fprintf(w, "  %s %s\n", stateTags[a.State], a.Name)
		for _, f := range a.FieldDiffs {
			fmt.Fprintf(w, "    %s: %s\n", f.Path, f.Str.Render())
		}
	}
}
