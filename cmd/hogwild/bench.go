package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hogwild-ml/hogwild/internal/checkpoint"
	"github.com/hogwild-ml/hogwild/internal/optim"
	"github.com/hogwild-ml/hogwild/internal/tensor"
	"github.com/hogwild-ml/hogwild/internal/train"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run the aggregation engine against a synthetic model",
	Long: `Run the full asynchronous fetch/compute/push cycle against a synthetic
least-squares model. Exercises sharding, compression, accumulation and the
moving average without an external graph collaborator; prints engine
metrics when done.`,
	RunE: runBench,
}

func init() {
	f := benchCmd.Flags()
	f.String("devices", "cpu:0,cpu:1", "Comma-separated device list (kind:ordinal); one worker and one shard per device")
	f.Int("size", 100000, "Synthetic model parameter count")
	f.Int("batches", 1000, "Number of synthetic batches to process")
	f.Int("tau", 1, "Micro-batch accumulation factor")
	f.Float64("drop-rate", 0, "Gradient compression aggressiveness; 0 disables compression")
	f.Int("history-size", 0, "Version ring depth override; 0 selects the default")
	f.Bool("moving-average", false, "Track an exponentially-decayed parameter shadow")
	f.Float64("moving-decay", 0.9999, "Maximum moving-average decay")
	f.Bool("batch-flexible-lr", false, "Scale learning rates by batch length")
	f.Float64("batch-normal-words", 1000, "Length normalization denominator")
	f.Bool("multinode", false, "Request the multi-node extension")
	f.String("optimizer", "sgd", "Update rule: sgd or adam")
	f.Float64("learn-rate", 0.01, "Base learning rate")
	f.Float64("momentum", 0, "SGD momentum factor")
	f.Uint64("disp-freq", 100, "Log progress every N batches")
	f.Uint64("save-freq", 0, "Raise the checkpoint flag every N batches (0 disables)")
	f.String("save-path", "", "Directory for SafeTensors checkpoints (empty disables saving)")
	f.Bool("print-metrics", false, "Dump Prometheus metrics on exit")
}

func runBench(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	devices, err := parseDevices(viper.GetString("devices"))
	if err != nil {
		return err
	}

	cfg := train.Config{
		Devices:          devices,
		Tau:              viper.GetInt("tau"),
		DropRate:         viper.GetFloat64("drop-rate"),
		HistorySize:      viper.GetInt("history-size"),
		MovingAverage:    viper.GetBool("moving-average"),
		MovingDecay:      float32(viper.GetFloat64("moving-decay")),
		BatchFlexibleLR:  viper.GetBool("batch-flexible-lr"),
		BatchNormalWords: float32(viper.GetFloat64("batch-normal-words")),
		Multinode:        viper.GetBool("multinode"),
		Optimizer: optim.Config{
			Algorithm: viper.GetString("optimizer"),
			LR:        float32(viper.GetFloat64("learn-rate")),
			Momentum:  float32(viper.GetFloat64("momentum")),
		},
		Logger: slog.Default(),
	}

	size := viper.GetInt("size")
	builder := &leastSquaresBuilder{size: size}
	scheduler := train.NewReportingScheduler(train.ReportingConfig{
		DispFreq: viper.GetUint64("disp-freq"),
		SaveFreq: viper.GetUint64("save-freq"),
	})

	collab := train.Collaborators{Scheduler: scheduler}
	if dir := viper.GetString("save-path"); dir != "" {
		saver, err := checkpoint.NewSaver(dir, slog.Default())
		if err != nil {
			return err
		}
		collab.Checkpointer = saver
	}

	trainer, err := train.NewAsync(cfg, builder, collab)
	if err != nil {
		return err
	}

	batches := make(chan train.Batch)
	go func() {
		defer close(batches)
		rng := rand.New(rand.NewSource(42))
		for i := 0; i < viper.GetInt("batches"); i++ {
			batches <- benchBatch{words: 500 + rng.Intn(1000)}
		}
	}()

	if err := trainer.Run(batches); err != nil {
		return err
	}

	if viper.GetBool("print-metrics") {
		metrics.WritePrometheus(os.Stdout, false)
	}
	return nil
}

func parseDevices(s string) ([]tensor.Device, error) {
	var devices []tensor.Device
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		kind, ordinal, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid device %q (expected kind:ordinal)", part)
		}
		n, err := strconv.Atoi(ordinal)
		if err != nil {
			return nil, fmt.Errorf("invalid device ordinal in %q: %w", part, err)
		}
		var k tensor.DeviceKind
		switch kind {
		case "cpu":
			k = tensor.CPU
		case "cuda":
			k = tensor.CUDA
		case "webgpu":
			k = tensor.WebGPU
		default:
			return nil, fmt.Errorf("unknown device kind %q", kind)
		}
		devices = append(devices, tensor.Device{Kind: k, Ordinal: n})
	}
	return devices, nil
}

// leastSquaresBuilder builds synthetic graphs whose cost is the mean squared
// distance of the parameters from a fixed target, so the async engine has
// something real to minimize without an external autodiff collaborator.
type leastSquaresBuilder struct {
	size int
}

func (b *leastSquaresBuilder) Build(device tensor.Device) (train.Graph, error) {
	params, err := tensor.NewRaw(tensor.Shape{b.size}, tensor.Float32, device)
	if err != nil {
		return nil, err
	}
	grads, err := tensor.NewRaw(tensor.Shape{b.size}, tensor.Float32, device)
	if err != nil {
		return nil, err
	}
	target, err := tensor.NewRaw(tensor.Shape{b.size}, tensor.Float32, device)
	if err != nil {
		return nil, err
	}
	t := target.AsFloat32()
	// All workers minimize the same objective, so the target generation is
	// seeded identically per device.
	rng := rand.New(rand.NewSource(7))
	for i := range t {
		t[i] = rng.Float32()*2 - 1
	}
	return &leastSquaresGraph{params: params, grads: grads, target: target}, nil
}

type leastSquaresGraph struct {
	params *tensor.RawTensor
	grads  *tensor.RawTensor
	target *tensor.RawTensor
}

func (g *leastSquaresGraph) Params() *tensor.RawTensor {
	return g.params
}

func (g *leastSquaresGraph) Forward() float32 {
	p := g.params.AsFloat32()
	t := g.target.AsFloat32()
	var sum float64
	for i := range p {
		d := float64(p[i] - t[i])
		sum += d * d
	}
	return float32(sum / (2 * float64(len(p))))
}

func (g *leastSquaresGraph) Backward() *tensor.RawTensor {
	p := g.params.AsFloat32()
	t := g.target.AsFloat32()
	out := g.grads.AsFloat32()
	n := float32(len(p))
	for i := range p {
		out[i] = (p[i] - t[i]) / n
	}
	return g.grads
}

type benchBatch struct {
	words int
}

func (b benchBatch) Words() int {
	return b.words
}
