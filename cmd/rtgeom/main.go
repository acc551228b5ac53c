package main

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rtgeom/pkg/config"
	"rtgeom/pkg/pipeline"
)

func main() {
	inputDirs := flag.String("input", "", "Comma-separated directories of PNG mask slices (one per rater)")
	outputDir := flag.String("output", "rtgeom_output", "Output directory for contour data and images")
	configPath := flag.String("config", "rtgeom.yaml", "Configuration file (YAML)")
	writeConfig := flag.Bool("write-config", false, "Write the default configuration file and exit")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *writeConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatal().Err(err).Msg("failed to write config")
		}
		log.Info().Str("path", *configPath).Msg("default configuration written")
		return
	}

	if *inputDirs == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	params := &pipeline.Params{
		InputDirs: strings.Split(*inputDirs, ","),
		OutputDir: *outputDir,
		Config:    cfg,
		Logger:    log,
	}

	start := time.Now()
	if err := pipeline.New(params).Process(); err != nil {
		log.Fatal().Err(err).Msg("processing failed")
	}
	log.Info().Dur("elapsed", time.Since(start)).Str("output", *outputDir).Msg("done")
}
