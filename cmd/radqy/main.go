package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mrsinham/radqy/internal/config"
	"github.com/mrsinham/radqy/internal/dicom/modalities"
	"github.com/mrsinham/radqy/internal/logging"
	"github.com/mrsinham/radqy/internal/pipeline"
	"github.com/mrsinham/radqy/internal/subject"
	"github.com/mrsinham/radqy/internal/tags"
	"github.com/mrsinham/radqy/internal/util"
)

// version is set at build time via -ldflags
var version = "dev"

// Environment variables read after .env is loaded.
const (
	envTagsDir    = "RADQY_TAGS_DIR"
	envOutputRoot = "RADQY_OUTPUT_ROOT"
)

func main() {
	// A missing .env is not an error
	_ = godotenv.Load()

	saveMasks := flag.String("s", "", "Save foreground masks ('0' or empty disables)")
	stride := flag.String("b", "1", "Keep every N-th sampled slice")
	middle := flag.String("u", "100", "Percentage of middle slices to sample (0-100)")
	scanType := flag.String("t", string(modalities.MRI), "Scan type: MRI or CT")
	workers := flag.Int("workers", 1, fmt.Sprintf("Number of subjects processed in parallel (0 = %d CPU cores)", runtime.NumCPU()))
	tagsDir := flag.String("tags", config.DefaultTagsDir, "Directory holding MRI_TAGS.yaml and CT_TAGS.yaml")
	outputRoot := flag.String("root", config.DefaultOutputRoot, "Directory the output folder is created in")
	groupDirs := flag.Bool("group-dirs", false, "Group DICOM files by parent directory instead of file name")
	configFile := flag.String("config", "", "Load run configuration from YAML file")
	saveConfig := flag.String("save-config", "", "Save run configuration to YAML file")
	quiet := flag.Bool("quiet", false, "Only print errors")
	verbose := flag.Bool("verbose", false, "Print debug logs")
	help := flag.Bool("help", false, "Show help message")
	showVersion := flag.Bool("version", false, "Show version")

	positional, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	if *showVersion {
		fmt.Printf("radqy %s\n", version)
		os.Exit(0)
	}
	if *help {
		printHelp()
		os.Exit(0)
	}

	cfg := envConfig()
	if *configFile != "" {
		loaded, err := config.LoadOnto(cfg, *configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags given on the command line override the configuration
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "s":
			cfg.SaveMasks = bool(util.ParseMaskFlag(*saveMasks))
		case "b":
			n, err := util.ParseStride(*stride)
			if err != nil {
				flagErr = err
			}
			cfg.SampleStride = n
		case "u":
			n, err := util.ParseMiddlePercent(*middle)
			if err != nil {
				flagErr = err
			}
			cfg.MiddlePercent = n
		case "t":
			cfg.ScanType = *scanType
		case "workers":
			cfg.Workers = *workers
		case "tags":
			cfg.TagsDir = *tagsDir
		case "root":
			cfg.OutputRoot = *outputRoot
		case "group-dirs":
			cfg.GroupByDirectory = *groupDirs
		}
	})
	if flagErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", flagErr)
		os.Exit(1)
	}

	switch len(positional) {
	case 3:
		cfg.ScanType = positional[2]
		fallthrough
	case 2:
		cfg.InputDir = positional[1]
		fallthrough
	case 1:
		cfg.OutputName = positional[0]
	case 0:
	default:
		fmt.Fprintf(os.Stderr, "Error: too many arguments: %s\n", strings.Join(positional[3:], " "))
		printUsage()
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	logger, err := logging.New(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync(logger)

	dict, err := tags.LoadDictionary(cfg.TagFile())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, err := range dict.Unresolved() {
		logger.Warn("tag dictionary entry matches no DICOM tag", zap.String("file", cfg.TagFile()), zap.Error(err))
	}

	start := time.Now()
	subjects, err := subject.Assemble(cfg.InputDir, subject.Options{
		GroupByDirectory: cfg.GroupByDirectory,
		Logger:           logger,
		Quiet:            *quiet,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := pipeline.Run(ctx, subjects, pipeline.Options{
		OutDir:     cfg.OutputDir(),
		Profile:    modalities.GetProfile(modalities.ScanType(cfg.ScanType)),
		Stride:     cfg.SampleStride,
		Middle:     cfg.MiddlePercent,
		SaveMasks:  cfg.SaveMasks,
		Dictionary: dict,
		Logger:     logger,
		Workers:    cfg.Workers,
		Quiet:      *quiet,
		Start:      start,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrNoResults) && summary != nil {
			fmt.Fprintf(os.Stderr, "Error: %v (%d of %d subjects skipped)\n", err, summary.Skipped, summary.Subjects)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		logging.Sync(logger)
		os.Exit(1)
	}

	if *saveConfig != "" {
		if err := cfg.Save(*saveConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not save config: %v\n", err)
		} else if !*quiet {
			fmt.Printf("Configuration saved to %s\n", *saveConfig)
		}
	}

	if !*quiet {
		printViewerNote(cfg, summary)
	}
}

// envConfig returns the defaults with the environment applied. A config file
// is read over it, so keys the file leaves out keep the environment value.
func envConfig() *config.Config {
	cfg := config.Default()
	if v := os.Getenv(envTagsDir); v != "" {
		cfg.TagsDir = v
	}
	if v := os.Getenv(envOutputRoot); v != "" {
		cfg.OutputRoot = v
	}
	return cfg
}

// parseArgs parses flags and collects positional arguments, allowing flags
// after them.
func parseArgs(args []string) ([]string, error) {
	var positional []string
	for {
		if err := flag.CommandLine.Parse(args); err != nil {
			return nil, err
		}
		if flag.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, flag.Arg(0))
		args = flag.Args()[1:]
	}
}

// printViewerNote frames the pointer to the results viewer.
func printViewerNote(cfg *config.Config, summary *pipeline.Summary) {
	title := "To view the final RadQy interface results:"
	lines := []string{
		fmt.Sprintf("Please go to the '%s' directory and open up the 'index.html' file.", filepath.Dir(cfg.OutputRoot)),
		fmt.Sprintf("Click on 'View Results' and select '%s' file.", summary.ResultsPath),
	}

	width := len(title)
	for _, l := range lines {
		width = max(width, len(l))
	}
	pad := func(s string) string { return s + strings.Repeat(" ", width-len(s)) }

	fmt.Printf("╔%s╗\n", strings.Repeat("═", width+6))
	fmt.Printf("║   %s   ║\n", pad(title))
	fmt.Printf("║   %s   ║\n", pad(strings.Repeat("-", len(title))))
	for _, l := range lines {
		fmt.Printf("║   %s   ║\n", pad(l))
	}
	fmt.Printf("╚%s╝\n", strings.Repeat("═", width+6))
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "\nUsage:")
	fmt.Fprintln(os.Stderr, "  radqy [options] <output_folder_name> <input_dir> [MRI|CT]")
	fmt.Fprintln(os.Stderr, "\nOptions:")
	flag.PrintDefaults()
}

func printHelp() {
	fmt.Println("radqy")
	fmt.Println("=====")
	fmt.Println()
	fmt.Println("Compute no-reference image quality metrics for MRI and CT volumes.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  radqy [options] <output_folder_name> <input_dir> [MRI|CT]")
	fmt.Println()
	fmt.Println("Required arguments:")
	fmt.Println("  <output_folder_name>  Folder created under the output root for this run")
	fmt.Println("  <input_dir>           Directory of *.dcm, *.mha, *.nii(.gz), *.mat or *.npy files")
	fmt.Println()
	fmt.Println("Optional arguments:")
	fmt.Println("  -s <FLAG>             Save foreground masks ('0' or empty disables, default: off)")
	fmt.Println("  -b <N>                Keep every N-th sampled slice (default: 1)")
	fmt.Println("  -u <PERCENT>          Percentage of middle slices to sample, 0-100 (default: 100)")
	fmt.Println("  -t <TYPE>             Scan type: MRI or CT (default: MRI)")
	fmt.Printf("  -workers <N>          Subjects processed in parallel (default: 1, 0 = %d CPU cores)\n", runtime.NumCPU())
	fmt.Println("  -group-dirs           Group DICOM files by parent directory instead of file name")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  -tags <DIR>           Tag dictionary directory (default: %s, env %s)\n", config.DefaultTagsDir, envTagsDir)
	fmt.Printf("  -root <DIR>           Output root (default: %s, env %s)\n", config.DefaultOutputRoot, envOutputRoot)
	fmt.Println("  -config <FILE>        Load run configuration from YAML file")
	fmt.Println("  -save-config <FILE>   Save run configuration to YAML file after the run")
	fmt.Println()
	fmt.Println("Output:")
	fmt.Println("  -quiet                Only print errors")
	fmt.Println("  -verbose              Print debug logs")
	fmt.Println("  -help                 Show this help message")
	fmt.Println("  -version              Show version")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Measure an MRI cohort")
	fmt.Println("  radqy cohort1 /data/cohort1")
	fmt.Println()
	fmt.Println("  # CT scans, masks saved, every second slice of the middle 50%")
	fmt.Println("  radqy -t CT -s 1 -b 2 -u 50 lungs /data/lungs")
	fmt.Println()
	fmt.Println("  # Four subjects at a time, output under /tmp/results")
	fmt.Println("  radqy -workers 4 -root /tmp/results cohort1 /data/cohort1")
}
