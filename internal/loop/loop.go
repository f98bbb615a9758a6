// Package loop drives one workspace through its PRD: load state, build the
// prompt, spawn the agent, consume its stream, apply the result, run stuck
// detection, and repeat until the workspace completes, pauses, stops, or the
// iteration limit is hit. The loop is strictly sequential, with exactly one
// outstanding agent invocation at a time.
package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radvoogh/william/internal/agent"
	"github.com/radvoogh/william/internal/chain"
	"github.com/radvoogh/william/internal/prd"
	"github.com/radvoogh/william/internal/progress"
	"github.com/radvoogh/william/internal/prompt"
	"github.com/radvoogh/william/internal/prompts"
	"github.com/radvoogh/william/internal/state"
	"github.com/radvoogh/william/internal/stream"
	"github.com/radvoogh/william/internal/stuck"
	"github.com/radvoogh/william/internal/ui"
	"github.com/radvoogh/william/internal/workspace"
)

// Defaults for Options.
const (
	DefaultMaxIterations = 20
	DefaultSleep         = 2 * time.Second
)

// ErrMaxIterations is returned when the loop hits its iteration limit before
// the workspace reaches a terminal state.
var ErrMaxIterations = errors.New("loop: max iterations reached")

// Options configures one workspace run.
type Options struct {
	Workspace     string // display name
	Dir           string // absolute workspace directory
	Adapter       agent.Adapter
	MaxIterations int
	Sleep         time.Duration
	Detector      *stuck.Detector
	Logger        *zap.Logger
	Now           func() time.Time
}

// Run executes the iteration loop until a terminal condition. Expected
// operational conditions (stop/pause sentinels, all-complete) return nil;
// exhaustion returns ErrMaxIterations; state and spawn failures are fatal
// and propagate.
func Run(ctx context.Context, opts Options, em ui.Emitter) error {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Sleep <= 0 {
		opts.Sleep = DefaultSleep
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	// Every run gets its own id so interleaved runs in one workspace log can
	// be told apart.
	opts.Logger = opts.Logger.With(zap.String("run_id", uuid.NewString()))
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Detector == nil {
		opts.Detector = stuck.New(opts.Dir, nil, opts.Logger)
	}

	var (
		totalCost          float64
		totalIn, totalOut  int
		chainCtx           string
		lastAnnouncedStory string
	)

	for iter := 1; iter <= opts.MaxIterations; iter++ {
		// Stop and pause sentinels are the only cancellation channels; they
		// take effect between iterations.
		if workspace.Stopped(opts.Dir) {
			em.System("stop signal found; exiting")
			return nil
		}
		if workspace.Paused(opts.Dir) {
			em.System("workspace is paused; exiting")
			return nil
		}
		if err := ctx.Err(); err != nil {
			em.System("context cancelled; exiting")
			return nil
		}

		st, err := state.Load(workspace.StatePath(opts.Dir))
		if err != nil {
			return err
		}
		storyID := st.Current()
		if storyID == "" {
			em.System("all stories complete")
			return nil
		}

		// Re-read the source PRD each iteration; it is the source of truth
		// and may change between iterations.
		rawPRD := readPRD(st, opts.Dir)
		parsed := prd.Parse(rawPRD)
		progressContent := progress.Read(workspace.ProgressPath(opts.Dir))
		hint := readFile(workspace.HintPath(opts.Dir))

		storyTitle := ""
		if s := parsed.FindStory(storyID); s != nil {
			storyTitle = s.Title
		}

		originalPRD := ""
		if st.ParentWorkspace != "" {
			originalPRD = readFile(workspace.PRDPath(st.ParentWorkspace))
		}

		prdContext := prompt.BuildContext(prompt.Input{
			RawPRD:       rawPRD,
			Parsed:       parsed,
			State:        st,
			Progress:     progressContent,
			StuckHint:    hint,
			ChainContext: chainCtx,
			OriginalPRD:  originalPRD,
		})

		templateName := "prompt.md"
		if st.RevisionNumber > 0 {
			templateName = "revision-prompt.md"
		}
		template, err := prompts.Get(templateName)
		if err != nil {
			return fmt.Errorf("loop: loading template: %w", err)
		}
		agentPrompt := prompt.Substitute(template, map[string]string{
			"branchName":       st.BranchName,
			"storyId":          storyID,
			"storyTitle":       storyTitle,
			"prdContext":       prdContext,
			"storyStatus":      prompt.StatusTable(parsed, st),
			"codebasePatterns": progress.Patterns(progressContent),
			"recentLearnings":  strings.Join(progress.RecentEntries(progressContent, 3), "\n\n"),
			"stuckHint":        hint,
			"progressFile":     workspace.ProgressPath(opts.Dir),
			"chainContext":     chainCtx,
		})

		attempts := 0
		if entry, ok := st.Stories.Get(storyID); ok {
			attempts = entry.Attempts
		}
		em.DashboardUpdate(frame(opts, st, storyID, storyTitle, iter, attempts,
			totalCost, totalIn, totalOut, hint != "", 0))

		if storyID != lastAnnouncedStory {
			em.StoryStart(storyID, storyTitle)
			lastAnnouncedStory = storyID
		}

		opts.Logger.Info("iteration starting",
			zap.Int("iteration", iter),
			zap.String("story", storyID),
			zap.Int("attempts", attempts))

		sess, err := runAgent(ctx, opts, st, storyID, agentPrompt, em)
		if err != nil {
			em.Error(err.Error())
			return err
		}

		res := opts.Adapter.ParseOutput(sess.FullText)
		now := opts.Now()

		var next state.State
		if res.StoryComplete {
			next, err = st.MarkComplete(storyID, now)
			if err != nil {
				return err
			}
			// The hint belongs to the story that just finished.
			os.Remove(workspace.HintPath(opts.Dir))
			chainCtx = chain.Format(chain.Extract(sess), storyID)
			em.StoryComplete(storyID, storyTitle)
		} else {
			next, err = st.IncrementAttempts(storyID, now)
			if err != nil {
				return err
			}
		}
		if err := state.Save(workspace.StatePath(opts.Dir), &next); err != nil {
			return err
		}

		totalCost += sess.TotalCostUSD
		totalIn += sess.InputTokens
		totalOut += sess.OutputTokens

		postAttempts := 0
		if entry, ok := next.Stories.Get(storyID); ok {
			postAttempts = entry.Attempts
		}
		hintPresent := workspace.Exists(workspace.HintPath(opts.Dir))
		em.DashboardUpdate(frame(opts, &next, storyID, storyTitle, iter, postAttempts,
			totalCost, totalIn, totalOut, hintPresent, len(sess.FilesModified())))

		if res.AllComplete {
			em.System("agent signaled all stories complete")
			return nil
		}
		if next.Current() == "" {
			em.System("all stories complete")
			return nil
		}

		if !res.StoryComplete {
			action, detected, err := opts.Detector.Detect(next, storyID, sess)
			if err != nil {
				return err
			}
			switch action {
			case stuck.ActionPause:
				em.System(fmt.Sprintf("workspace paused after %d attempts on %s", postAttempts, storyID))
				return nil
			case stuck.ActionSkip:
				em.StorySkipped(storyID, storyTitle)
				if detected.Current() == "" {
					em.System("all stories complete")
					return nil
				}
			case stuck.ActionHint:
				em.System("stuck hint written for " + storyID)
			}
		}

		select {
		case <-ctx.Done():
			em.System("context cancelled; exiting")
			return nil
		case <-time.After(opts.Sleep):
		}
	}

	em.Error(fmt.Sprintf("max iterations (%d) reached without completing all stories", opts.MaxIterations))
	return ErrMaxIterations
}

// runAgent spawns one agent invocation and drains it to a session, logging
// the NDJSON stream to the iteration log file.
func runAgent(ctx context.Context, opts Options, st *state.State, storyID, agentPrompt string, em ui.Emitter) (*stream.Session, error) {
	logPath := workspace.IterationLogPath(opts.Dir, storyID, opts.Now())
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("loop: creating logs dir: %w", err)
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("loop: creating iteration log: %w", err)
	}

	handle, err := opts.Adapter.Spawn(ctx, agentPrompt, st.TargetDir)
	if err != nil {
		logFile.Close()
		os.Remove(logPath)
		return nil, fmt.Errorf("loop: spawning agent: %w", err)
	}

	return stream.Consume(handle, logFile, em)
}

// frame builds one dashboard snapshot.
func frame(opts Options, st *state.State, storyID, storyTitle string, iter, attempts int,
	cost float64, inTok, outTok int, hintPresent bool, filesModified int) ui.Frame {

	passed, skipped, total := st.Counts()
	status := "normal"
	if hintPresent {
		status = "hint-written"
		if attempts >= 4 {
			status = "approaching-skip"
		}
	}
	return ui.Frame{
		Workspace:     opts.Workspace,
		StoryID:       storyID,
		StoryTitle:    storyTitle,
		Iteration:     iter,
		MaxIterations: opts.MaxIterations,
		Passed:        passed,
		Skipped:       skipped,
		Total:         total,
		CostUSD:       cost,
		InputTokens:   inTok,
		OutputTokens:  outTok,
		Attempts:      attempts,
		StuckStatus:   status,
		FilesModified: filesModified,
	}
}

// readPRD reads the workspace's source PRD, falling back to the workspace
// copy when the source has moved. A missing PRD parses to empty fields
// rather than aborting the loop.
func readPRD(st *state.State, dir string) string {
	if data, err := os.ReadFile(st.SourceFile); err == nil {
		return string(data)
	}
	return readFile(workspace.PRDPath(dir))
}

func readFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
