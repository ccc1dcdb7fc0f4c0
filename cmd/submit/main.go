package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/ditto-assistant/txt2img/pkg/utils/numfmt"
	"github.com/ditto-assistant/txt2img/types/rp"
	"github.com/spf13/cobra"
)

var (
	logger       *log.Logger
	verbose      bool
	baseURL      string
	rawInput     string
	prompt       string
	outputFormat string
	outputFolder string
	runSync      bool
	noSpinner    bool
	pollInterval time.Duration
	timeout      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a txt2img job to a worker's local API and save the image",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logger.SetLevel(log.DebugLevel)
		}
		input, err := buildInput(rawInput, prompt, outputFormat)
		if err != nil {
			return err
		}
		logger.Debug("Submitting job", "url", baseURL, "input", string(input))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		c := newClient(baseURL, pollInterval)
		start := time.Now()
		st, err := wait(ctx, c, input)
		if err != nil {
			return err
		}
		out := st.Output
		if out == nil {
			return fmt.Errorf("job %s finished without output", st.ID)
		}
		if !out.OK() {
			return fmt.Errorf("job %s failed (%s): %s", st.ID, out.ErrorType, out.Message)
		}

		data, err := c.image(ctx, out)
		if err != nil {
			return err
		}
		name := prompt
		if name == "" {
			name = st.ID
		}
		filename, err := saveImage(outputFolder, fmt.Sprintf("%s_%d", name, time.Now().Unix()), out.ContentType, data)
		if err != nil {
			return err
		}
		kv := []any{"file", filename, "content_type", out.ContentType, "took", time.Since(start).Round(time.Millisecond)}
		if out.Cost != nil {
			kv = append(kv, "cost", numfmt.USDPrecise(*out.Cost, 8))
		}
		if out.Seed != nil {
			kv = append(kv, "seed", *out.Seed)
		}
		logger.Info("Image saved", kv...)
		return nil
	},
}

// wait submits the job and blocks until it completes, rendering a spinner
// unless disabled.
func wait(ctx context.Context, c *client, input json.RawMessage) (rp.JobStatus, error) {
	if noSpinner {
		return c.submit(ctx, input, runSync, func(status string) {
			logger.Info("Job status", "status", status)
		})
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := tea.NewProgram(newWaitModel())
	go func() {
		st, err := c.submit(ctx, input, runSync, func(status string) {
			p.Send(statusMsg(status))
		})
		p.Send(doneMsg{status: st, err: err})
	}()
	final, err := p.Run()
	if err != nil {
		return rp.JobStatus{}, fmt.Errorf("error running spinner: %w", err)
	}
	m := final.(waitModel)
	if m.canceled || m.done == nil {
		return rp.JobStatus{}, context.Canceled
	}
	return m.done.status, m.done.err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Submit failed", "err", err)
		os.Exit(1)
	}
}

func init() {
	styles := log.DefaultStyles()
	styles.Levels[log.ErrorLevel] = lipgloss.NewStyle().
		SetString("ERROR!!").
		Padding(0, 1, 0, 1).
		Background(lipgloss.Color("204")).
		Foreground(lipgloss.Color("0"))
	styles.Keys["err"] = lipgloss.NewStyle().Foreground(lipgloss.Color("204"))
	styles.Values["err"] = lipgloss.NewStyle().Bold(true)
	logger = log.New(os.Stderr)
	logger.SetStyles(styles)

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	rootCmd.Flags().BoolVarP(&verbose, "verbose", "V", false, "Verbose output")
	rootCmd.Flags().StringVarP(&baseURL, "url", "u", "http://localhost:8000", "Worker local API base URL")
	rootCmd.Flags().StringVarP(&rawInput, "input", "i", "", "Job input as a JSON object, or @file to read it from a file")
	rootCmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Prompt for image generation (overrides the input's prompt)")
	rootCmd.Flags().StringVarP(&outputFormat, "format", "f", "", "Output image format (png, jpeg, or jpg)")
	rootCmd.Flags().StringVarP(&outputFolder, "output", "o", "", "Output folder")
	rootCmd.Flags().BoolVar(&runSync, "sync", false, "Use /runsync instead of /run and polling")
	rootCmd.Flags().BoolVar(&noSpinner, "no-spinner", false, "Log status changes instead of showing a spinner")
	rootCmd.Flags().DurationVar(&pollInterval, "poll", 2*time.Second, "Status poll interval")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Give up after this long")
	rootCmd.MarkFlagDirname("output")
}
