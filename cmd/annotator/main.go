package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-annotator/internal/config"
)

// sessionFlags override the session parameters of the config file and env.
type sessionFlags struct {
	area   string
	place  string
	city   string
	videos string
	mode   string
	layout string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.area, "area", "", "area of the place, e.g. asia")
	fl.StringVar(&f.place, "place", "", "place whose videos are annotated")
	fl.StringVar(&f.city, "city", "", "city name recorded in the result")
	fl.StringVar(&f.videos, "videos", "", "comma separated video ids")
	fl.StringVar(&f.mode, "mode", "", "output mode: standalone or amt")
	fl.StringVar(&f.layout, "layout", "", "element layout: multi or concatenated")
}

func (f *sessionFlags) session() config.Session {
	return config.Session{
		Area:   f.area,
		Place:  f.place,
		City:   f.city,
		Videos: config.SplitList(f.videos),
		Mode:   f.mode,
		Layout: f.layout,
	}
}

// loadConfig reads file and env configuration, then applies flags.
func loadConfig(f *sessionFlags) (*config.EnvConfig, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplySession(f.session())
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "annotator",
		Short:         "Local video summarization annotator",
		Long:          "Serves one annotation session: segment selection, preview playback and result submission.",
		Version:       fmt.Sprintf("%s (%s)", config.Version, config.GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newCheckCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}
