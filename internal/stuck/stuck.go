// Package stuck implements the per-iteration heuristic that decides whether
// the loop should keep going, write a recovery hint, skip the current story,
// or pause the workspace. The detector owns all writes to .stuck-hint.md and
// .paused; the iteration loop owns the hint's deletion on story completion.
package stuck

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/radvoogh/william/internal/notify"
	"github.com/radvoogh/william/internal/state"
	"github.com/radvoogh/william/internal/stream"
	"github.com/radvoogh/william/internal/workspace"
)

// Action is the detector's verdict for one iteration.
type Action string

const (
	ActionContinue Action = "continue"
	ActionHint     Action = "hint"
	ActionSkip     Action = "skip"
	ActionPause    Action = "pause"
)

// Escalation thresholds. The ladder is evaluated top to bottom; the first
// matching rung wins.
const (
	pauseAttempts = 7
	skipAttempts  = 5
	hintAttempts  = 3

	toolLoopCount  = 10
	errorRateLimit = 0.5

	maxHintErrors = 20
	maxHintFiles  = 10
	hintErrorLen  = 200
)

// Detector evaluates the escalation ladder after every iteration.
type Detector struct {
	Dir      string
	Notifier notify.Notifier
	Logger   *zap.Logger
	Now      func() time.Time
}

// New creates a Detector for a workspace directory. notifier and logger may
// be nil.
func New(dir string, notifier notify.Notifier, logger *zap.Logger) *Detector {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{Dir: dir, Notifier: notifier, Logger: logger, Now: time.Now}
}

// Detect runs the ladder for the just-finished iteration. st must already
// reflect the iteration's attempt/completion bookkeeping. On skip, the
// returned state has the story skipped and has been persisted; otherwise the
// input state is returned unchanged.
func (d *Detector) Detect(st state.State, storyID string, sess *stream.Session) (Action, state.State, error) {
	entry, ok := st.Stories.Get(storyID)
	if !ok {
		return ActionContinue, st, fmt.Errorf("stuck: unknown story %q", storyID)
	}
	hintPresent := workspace.Exists(workspace.HintPath(d.Dir))

	if hintPresent && entry.Attempts >= pauseAttempts {
		reason := fmt.Sprintf("Paused after %d attempts on %s with stuck hint present", entry.Attempts, storyID)
		if err := os.WriteFile(workspace.PausedPath(d.Dir), []byte(reason+"\n"), 0644); err != nil {
			return ActionContinue, st, fmt.Errorf("stuck: writing pause sentinel: %w", err)
		}
		d.Notifier.Notify("Workspace paused", reason)
		d.Logger.Warn("workspace paused", zap.String("story", storyID), zap.Int("attempts", entry.Attempts))
		return ActionPause, st, nil
	}

	if hintPresent && entry.Attempts >= skipAttempts {
		reason := fmt.Sprintf("Skipped after %d attempts with stuck hint present", entry.Attempts)
		skipped, err := st.MarkSkipped(storyID, reason, d.Now())
		if err != nil {
			return ActionContinue, st, err
		}
		if err := state.Save(workspace.StatePath(d.Dir), &skipped); err != nil {
			return ActionContinue, st, err
		}
		d.Notifier.Notify("Story skipped", storyID+": "+reason)
		d.Logger.Warn("story skipped", zap.String("story", storyID), zap.Int("attempts", entry.Attempts))
		return ActionSkip, skipped, nil
	}

	reasons := signals(sess)
	if entry.Attempts >= hintAttempts {
		reasons = append(reasons, fmt.Sprintf("attempts threshold reached (%d attempts without completion)", entry.Attempts))
	}
	if len(reasons) == 0 {
		return ActionContinue, st, nil
	}

	reason := strings.Join(reasons, "; ")
	if err := d.writeHint(storyID, reason, sess); err != nil {
		return ActionContinue, st, err
	}
	d.Notifier.Notify("Stuck hint written", storyID+": "+reason)
	d.Logger.Info("stuck hint written", zap.String("story", storyID), zap.String("reason", reason))
	return ActionHint, st, nil
}

// signals computes the three per-session stuck signals.
func signals(sess *stream.Session) []string {
	var reasons []string

	counts := make(map[string]int)
	var loopTool string
	loopMax := 0
	for _, tu := range sess.ToolUses {
		input, err := json.Marshal(tu.Input)
		if err != nil {
			continue
		}
		key := tu.Name + ":" + string(input)
		counts[key]++
		if counts[key] > loopMax {
			loopMax = counts[key]
			loopTool = tu.Name
		}
	}
	if loopMax >= toolLoopCount {
		reasons = append(reasons, fmt.Sprintf("tool loop detected: %s invoked %d times with identical input", loopTool, loopMax))
	}

	if len(sess.ToolUses) > 0 {
		hasWrite := false
		for _, tu := range sess.ToolUses {
			if tu.Name == "Write" || tu.Name == "Edit" {
				hasWrite = true
				break
			}
		}
		if !hasWrite {
			reasons = append(reasons, "zero progress: tools were used but no files were written or edited")
		}
	}

	if len(sess.ToolResults) > 0 {
		errCount := 0
		for _, tr := range sess.ToolResults {
			if tr.IsError {
				errCount++
			}
		}
		if float64(errCount) > errorRateLimit*float64(len(sess.ToolResults)) {
			reasons = append(reasons, fmt.Sprintf("high error rate: %d of %d tool results failed", errCount, len(sess.ToolResults)))
		}
	}

	return reasons
}

// writeHint renders the human-readable recovery hint consumed by the next
// iteration's prompt.
func (d *Detector) writeHint(storyID, reason string, sess *stream.Session) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Stuck Recovery Hint for %s\n\n", storyID)
	fmt.Fprintf(&sb, "## Reason\n\n%s\n", reason)

	var errs []string
	for _, tr := range sess.ToolResults {
		if tr.IsError {
			errs = append(errs, fmt.Sprintf("- [%s] %s", tr.ToolUseID, stream.Truncate(tr.Content, hintErrorLen)))
		}
		if len(errs) == maxHintErrors {
			break
		}
	}
	if len(errs) > 0 {
		fmt.Fprintf(&sb, "\n## Error Results\n\n%s\n", strings.Join(errs, "\n"))
	}

	files := sess.FilesModified()
	if len(files) > maxHintFiles {
		files = files[:maxHintFiles]
	}
	if len(files) > 0 {
		fmt.Fprintf(&sb, "\n## Files Modified\n\n")
		for _, f := range files {
			fmt.Fprintf(&sb, "- `%s`\n", f)
		}
	}

	fmt.Fprintf(&sb, "\n## Session Stats\n\n")
	fmt.Fprintf(&sb, "- Tool uses: %d\n", len(sess.ToolUses))
	fmt.Fprintf(&sb, "- Tool results: %d\n", len(sess.ToolResults))
	fmt.Fprintf(&sb, "- Cost: $%.4f\n", sess.TotalCostUSD)
	fmt.Fprintf(&sb, "- Tokens: %d in / %d out\n", sess.InputTokens, sess.OutputTokens)
	fmt.Fprintf(&sb, "- Turns: %d\n", sess.NumTurns)

	fmt.Fprintf(&sb, "\n## Suggestion\n\n")
	sb.WriteString("The previous attempts did not converge. Step back and re-read the acceptance criteria, ")
	sb.WriteString("then pick the single smallest change that moves one criterion forward. ")
	sb.WriteString("If a command keeps failing, try a different approach instead of repeating it.\n")

	if err := os.WriteFile(workspace.HintPath(d.Dir), []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("stuck: writing hint file: %w", err)
	}
	return nil
}
