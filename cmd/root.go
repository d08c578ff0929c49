package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agentsim/agentsim/config"
	"github.com/agentsim/agentsim/kernel"
	"github.com/agentsim/agentsim/kernel/journal"
	"github.com/agentsim/agentsim/kernel/trace"
)

var (
	// CLI flags for the run command
	iterations  int     // Cycle budget (0 = unbounded)
	seconds     float64 // Virtual-time budget in seconds (0 = unbounded)
	clockSpeed  float64 // Clock speed relative to wall time (0 = jump to next event)
	realTime    bool    // Track wall time instead of jumping
	workers     int     // Parallel activation workers (0 = single-goroutine)
	strict      bool    // Turn routing warnings and agent faults into errors
	tolerant    bool    // Disable the send-time copy-contract check
	pauseIdle   bool    // Return once mail, wake set and due alarms are empty
	logLevel    string  // Log verbosity level
	configFile  string  // Optional YAML/JSON config file
	watchConfig bool    // Hot-reload the config file (clock speed changes apply mid-run)
	journalPath string  // Optional SQLite journal for the delivery trace
	runName     string  // Journal run name
	demo        string  // Demo scenario: ping-pong or alarms
	rallyLength int     // Ping-pong: volleys before the smash
	tickCount   int     // Alarms demo: number of timer ticks
	tickEvery   float64 // Alarms demo: seconds between ticks
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "agentsim",
	Short: "In-process multi-agent simulation kernel",
}

// runCmd executes a demo simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a demo simulation",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q", logLevel)
		}
		logrus.SetLevel(level)

		cfg := config.Default()
		var watcher *config.Watcher
		if configFile != "" {
			if watchConfig {
				watcher, err = config.NewWatcher(configFile)
				if err != nil {
					return err
				}
				cfg = watcher.Current()
			} else if cfg, err = config.Load(configFile); err != nil {
				return err
			}
		}
		mergeFlags(cmd, cfg)

		sched := kernel.New(kernel.Config{
			RealTime:      cfg.RealTime,
			ClockSpeed:    kernel.Speed(cfg.ClockSpeed),
			StartTime:     cfg.StartTime,
			Tolerant:      cfg.Tolerant,
			StrictRouting: cfg.Strict,
			Workers:       cfg.Workers,
		})
		log := trace.NewCycleLog()
		sched.AttachTrace(log)

		if watcher != nil {
			watcher.OnChange(func(old, new *config.File) {
				if old.ClockSpeed != new.ClockSpeed {
					sched.RequestClockSpeed(kernel.Speed(new.ClockSpeed))
				}
			})
			if err := watcher.Start(); err != nil {
				return err
			}
			defer watcher.Stop()
		}

		if err := buildDemo(sched, demo); err != nil {
			return err
		}

		logrus.Infof("starting %q demo: clock=%s speed=%v workers=%d",
			demo, sched.Clock().Mode(), cfg.ClockSpeed, cfg.Workers)

		if err := sched.Run(kernel.RunOptions{
			Seconds:     cfg.Seconds,
			Iterations:  cfg.Iterations,
			PauseIfIdle: cfg.PauseIfIdle,
		}); err != nil {
			return err
		}
		logrus.Infof("run ended at t=%.3f after %d cycles", sched.Now(), sched.Cycle())

		sched.Metrics().Print()
		printSummary(trace.Summarize(log))

		if journalPath != "" {
			j, err := journal.Open(journalPath)
			if err != nil {
				return err
			}
			defer j.Close()
			if err := j.Append(runName, log.Records); err != nil {
				return err
			}
			logrus.Infof("journaled %d deliveries under run %q", log.Len(), runName)
		}
		return sched.Stop()
	},
}

// mergeFlags overrides file-based configuration with explicitly set flags.
func mergeFlags(cmd *cobra.Command, cfg *config.File) {
	if cmd.Flags().Changed("iterations") {
		cfg.Iterations = iterations
	}
	if cmd.Flags().Changed("seconds") {
		cfg.Seconds = seconds
	}
	if cmd.Flags().Changed("clock-speed") {
		cfg.ClockSpeed = clockSpeed
	}
	if cmd.Flags().Changed("real-time") {
		cfg.RealTime = realTime
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = workers
	}
	if cmd.Flags().Changed("strict") {
		cfg.Strict = strict
	}
	if cmd.Flags().Changed("tolerant") {
		cfg.Tolerant = tolerant
	}
	if cmd.Flags().Changed("pause-if-idle") {
		cfg.PauseIfIdle = pauseIdle
	}
}

func printSummary(s *trace.Summary) {
	fmt.Println("=== Delivery Summary ===")
	fmt.Printf("Messages routed   : %d\n", s.TotalMessages)
	fmt.Printf("Deliveries        : %d\n", s.TotalDeliveries)
	fmt.Printf("Unique senders    : %d\n", s.UniqueSenders)
	for topic, n := range s.PerTopic {
		fmt.Printf("  topic %-12q: %d\n", topic, n)
	}
}

func init() {
	runCmd.Flags().IntVar(&iterations, "iterations", 0, "cycle budget, 0 = unbounded")
	runCmd.Flags().Float64Var(&seconds, "seconds", 0, "virtual-time budget in seconds, 0 = unbounded")
	runCmd.Flags().Float64Var(&clockSpeed, "clock-speed", 0, "clock speed relative to wall time, 0 = jump to next event")
	runCmd.Flags().BoolVar(&realTime, "real-time", false, "track wall time instead of jumping")
	runCmd.Flags().IntVar(&workers, "workers", 0, "parallel activation workers, 0 = single-goroutine")
	runCmd.Flags().BoolVar(&strict, "strict", false, "turn routing warnings and agent faults into errors")
	runCmd.Flags().BoolVar(&tolerant, "tolerant", false, "disable the send-time copy-contract check")
	runCmd.Flags().BoolVar(&pauseIdle, "pause-if-idle", true, "return once mail, wake set and due alarms are empty")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "log verbosity level")
	runCmd.Flags().StringVar(&configFile, "config", "", "YAML/JSON config file")
	runCmd.Flags().BoolVar(&watchConfig, "watch", false, "hot-reload the config file; clock-speed changes apply mid-run")
	runCmd.Flags().StringVar(&journalPath, "journal", "", "SQLite journal file for the delivery trace")
	runCmd.Flags().StringVar(&runName, "run-name", "default", "journal run name")
	runCmd.Flags().StringVar(&demo, "demo", "ping-pong", "demo scenario: ping-pong or alarms")
	runCmd.Flags().IntVar(&rallyLength, "rally", 100, "ping-pong: volleys before the smash")
	runCmd.Flags().IntVar(&tickCount, "ticks", 10, "alarms demo: number of timer ticks")
	runCmd.Flags().Float64Var(&tickEvery, "tick-every", 1.0, "alarms demo: seconds between ticks")

	rootCmd.AddCommand(runCmd)
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
