package train

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/carnet-go/internal/analysis"
	"github.com/tphakala/carnet-go/internal/conf"
)

// Command creates the train command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the model",
		Long: `Train the model on the train set, evaluating on the test set after every
epoch. The best snapshot is written next to the checkpoint as <name>_best.<ext>
and the checkpoint itself is written once all epochs complete.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, err := analysis.Train(ctx, settings, cmd.OutOrStdout())
			return err
		},
	}

	setupFlags(cmd, &settings.Train)

	return cmd
}

// setupFlags configures flags specific to the train command.
func setupFlags(cmd *cobra.Command, s *conf.TrainSettings) {
	f := cmd.Flags()
	f.StringVar(&s.TrainPath, "trainpath", s.TrainPath, "Train set directory")
	f.StringVar(&s.TestPath, "testpath", s.TestPath, "Test set directory")
	f.StringVarP(&s.Checkpoint, "checkpoint", "c", s.Checkpoint, "Checkpoint path")
	f.IntVarP(&s.Epochs, "epochs", "e", s.Epochs, "Number of epochs")
	f.IntVar(&s.DecayEpoch, "decayepoch", s.DecayEpoch, "Learning rate decay interval in epochs, 0 disables decay")
	f.IntVar(&s.BatchSize, "batchsize", s.BatchSize, "Examples per optimizer step")
	f.Float64Var(&s.LearningRate, "lr", s.LearningRate, "Initial learning rate")
	f.Float64Var(&s.BestLoss, "bestloss", s.BestLoss, "Test loss a best snapshot must beat")
	f.BoolVar(&s.SaveBest, "savebest", s.SaveBest, "Write the best snapshot on improvement")
	f.BoolVar(&s.ReTrain, "retrain", s.ReTrain, "Ignore an existing checkpoint")
	f.StringVar(&s.Loss, "loss", s.Loss, "Loss: smoothl1, mse or crossentropy")
	f.StringVar(&s.Optimizer, "optimizer", s.Optimizer, "Optimizer: adam or sgd")
	f.StringVar(&s.OptimizerReset, "optimizerreset", s.OptimizerReset, "Optimizer state on decay: reset or preserve")

	for _, name := range []string{"trainpath", "testpath", "checkpoint", "epochs", "decayepoch", "batchsize",
		"bestloss", "savebest", "retrain", "loss", "optimizer", "optimizerreset"} {
		_ = viper.BindPFlag("train."+name, f.Lookup(name))
	}
	_ = viper.BindPFlag("train.learningrate", f.Lookup("lr"))
}
