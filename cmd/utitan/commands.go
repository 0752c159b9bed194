package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	utitan "github.com/gaspardblaise/Unrolled-TITAN"
	"github.com/gaspardblaise/Unrolled-TITAN/internal/store"
	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
	"github.com/gaspardblaise/Unrolled-TITAN/sim"
)

var (
	flagN, flagK  int
	flagLayers    int
	flagUpdatesW  int
	flagTrain     int
	flagTest      int
	flagEpochs    int
	flagBatch     int
	flagLearnRate float64
	flagSeed      uint64
	flagWorkers   int
	flagInit      string
	flagStructure string
	flagRhoMin    float64
	flagRhoMax    float64
	flagT         int
	flagModel     string
	flagStats     string
	flagDB        string
	flagOut       string
	flagDebug     bool
	flagShowLog   bool
)

func addDataFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&flagT, "samples-per-dataset", 1000, "observations per dataset")
	cmd.Flags().StringVar(&flagStructure, "structure", "uniform", "source correlation structure (uniform, ar)")
	cmd.Flags().Float64Var(&flagRhoMin, "rho-min", 0.2, "lowest cross-dataset correlation")
	cmd.Flags().Float64Var(&flagRhoMax, "rho-max", 0.3, "highest cross-dataset correlation")
	cmd.Flags().StringVar(&flagInit, "init", "random", "initialization of W (random, identity)")
	cmd.Flags().IntVar(&flagTest, "test", 50, "number of test problems")
	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "concurrent evaluators (0 = number of CPUs)")
	cmd.Flags().Uint64Var(&flagSeed, "seed", 1, "random seed")
	cmd.Flags().StringVar(&flagDB, "db", "", "SQLite database to record the run in")
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a network layer by layer and save it",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config()
		if err != nil {
			return err
		}
		conf.NetConf.Layers = flagLayers
		conf.NetConf.UpdatesW = flagUpdatesW
		conf.NetConf.Debug = flagDebug
		conf.Epochs = flagEpochs
		conf.BatchSize = flagBatch
		conf.LearnRate = flagLearnRate

		e, err := utitan.New(conf)
		if err != nil {
			return err
		}
		defer e.Close()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		closeDB, err := record(ctx, e)
		if err != nil {
			return err
		}
		defer closeDB()

		train, err := e.Samples(ctx, flagTrain, flagSeed)
		if err != nil {
			return err
		}
		test, err := e.Samples(ctx, flagTest, flagSeed+1)
		if err != nil {
			return err
		}
		log.Printf("Training %d layers on %d problems", conf.NetConf.Layers, len(train))
		if err := e.Learn(train); err != nil {
			return err
		}
		if err := e.Save(flagModel); err != nil {
			return err
		}
		if err := evaluate(ctx, e, test); err != nil {
			return err
		}
		if flagStats != "" {
			if err := e.Dump(flagStats); err != nil {
				return err
			}
		}
		if flagShowLog {
			return e.Log(os.Stdout)
		}
		return nil
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a saved network on fresh problems",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config()
		if err != nil {
			return err
		}
		e, err := utitan.Resume(flagModel, conf)
		if err != nil {
			return err
		}
		defer e.Close()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		closeDB, err := record(ctx, e)
		if err != nil {
			return err
		}
		defer closeDB()

		test, err := e.Samples(ctx, flagTest, flagSeed)
		if err != nil {
			return err
		}
		return evaluate(ctx, e, test)
	},
}

var dotCmd = &cobra.Command{
	Use:   "dot",
	Short: "Render the layers of a saved network as graphviz",
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config()
		if err != nil {
			return err
		}
		e, err := utitan.Resume(flagModel, conf)
		if err != nil {
			return err
		}
		defer e.Close()

		// run one problem through so every layer has a trace to show
		ctx := context.Background()
		sample, err := e.Samples(ctx, 1, flagSeed)
		if err != nil {
			return err
		}
		s := sample[0]
		if _, _, err := e.Network().Unroll(s.Rx, s.W, s.C, nil); err != nil {
			log.Printf("Unable to trace the network: %v", err)
		}
		dot, err := e.Network().ToDot()
		if err != nil {
			return err
		}
		if flagOut == "" {
			_, err = fmt.Println(dot)
			return err
		}
		return os.WriteFile(flagOut, []byte(dot), 0644)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{trainCmd, evalCmd, dotCmd} {
		cmd.Flags().IntVarP(&flagN, "sources", "n", 2, "number of sources")
		cmd.Flags().IntVarP(&flagK, "datasets", "k", 2, "number of datasets")
		cmd.Flags().StringVarP(&flagModel, "model", "m", "utitan.model", "network checkpoint")
	}
	addDataFlags(trainCmd)
	addDataFlags(evalCmd)

	trainCmd.Flags().IntVar(&flagLayers, "layers", 20, "number of unrolled layers")
	trainCmd.Flags().IntVar(&flagUpdatesW, "updates-w", 10, "W sub-steps per layer")
	trainCmd.Flags().IntVar(&flagTrain, "train", 200, "number of training problems")
	trainCmd.Flags().IntVar(&flagEpochs, "epochs", 10, "epochs per layer")
	trainCmd.Flags().IntVar(&flagBatch, "batch", 8, "problems per optimizer step")
	trainCmd.Flags().Float64Var(&flagLearnRate, "lr", 1e-3, "Adam learning rate")
	trainCmd.Flags().StringVar(&flagStats, "stats", "", "CSV file to dump training statistics to")
	trainCmd.Flags().BoolVar(&flagDebug, "debug", false, "keep VM execution logs")
	trainCmd.Flags().BoolVar(&flagShowLog, "log", false, "print the experiment log when done")

	dotCmd.Flags().Uint64Var(&flagSeed, "seed", 1, "seed of the problem traced through the network")
	dotCmd.Flags().StringVarP(&flagOut, "out", "o", "", "output file (default stdout)")
}

// config builds the experiment configuration shared by every command from the flags.
func config() (utitan.Config, error) {
	conf := utitan.DefaultConfig(flagN, flagK)
	if flagWorkers > 0 {
		conf.Workers = flagWorkers
	}
	if flagT > 0 {
		conf.DataConf.T = flagT
	}
	if flagRhoMax > 0 {
		conf.DataConf.RhoMin, conf.DataConf.RhoMax = flagRhoMin, flagRhoMax
	}
	switch flagStructure {
	case "", "uniform":
		conf.DataConf.Structure = sim.Uniform
	case "ar":
		conf.DataConf.Structure = sim.AR
	default:
		return conf, errors.Errorf("unknown structure %q", flagStructure)
	}
	if flagInit != "" {
		m, err := ivag.ParseInitMethod(flagInit)
		if err != nil {
			return conf, err
		}
		conf.Init = m
	}
	conf.Seed = flagSeed
	return conf, nil
}

func record(ctx context.Context, e *utitan.Experiment) (func(), error) {
	if flagDB == "" {
		return func() {}, nil
	}
	s, err := store.Open(flagDB)
	if err != nil {
		return nil, err
	}
	conf := e.Network().Config()
	rec, err := s.NewRecorder(ctx, e.Config().Name, conf.N, conf.K, conf.Layers)
	if err != nil {
		s.Close()
		return nil, err
	}
	log.Printf("Recording run %s in %s", rec.Run.ID, flagDB)
	e.SetRecorder(rec)
	return func() { s.Close() }, nil
}

func evaluate(ctx context.Context, e *utitan.Experiment, test []utitan.Sample) error {
	rep, err := e.Evaluate(ctx, test)
	if err != nil {
		return err
	}
	for layer, isi := range rep.PerLayer {
		fmt.Printf("layer %2d\tISI %.5f\talpha %.4g\n", layer, isi, rep.Alphas[layer])
	}
	fmt.Printf("%d problems evaluated, %d skipped\n", rep.Used, rep.Skipped)
	return nil
}
