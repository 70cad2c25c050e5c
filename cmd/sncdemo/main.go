// sncdemo runs an end-to-end sparse network coding session in one process:
// a random source block is encoded, pushed through a lossy channel, and
// decoded, optionally via a recoding relay hop. It prints per-run overhead
// and computational cost, the two numbers that matter when comparing
// decoders and schedulers.
package main

import (
	"math/rand"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gonum.org/v1/gonum/stat"

	"github.com/rlnc-go/sparsenc/decoder"
	"github.com/rlnc-go/sparsenc/internal/config"
	"github.com/rlnc-go/sparsenc/recoder"
	"github.com/rlnc-go/sparsenc/snc"
)

func main() {
	var (
		dataSize  = pflag.IntP("datasize", "d", 64*1024, "Source block size in bytes.")
		sizeP     = pflag.Int("size-p", 1024, "Symbols per packet, in bytes.")
		sizeC     = pflag.Int("size-c", 8, "Parity-check rows added by the inner precode.")
		sizeB     = pflag.Int("size-b", 16, "Base subgeneration size.")
		sizeG     = pflag.Int("size-g", 32, "Subgeneration size.")
		codeType  = pflag.StringP("type", "t", "band", "Code type: rand, band, windwrap, bats.")
		decName   = pflag.StringP("decoder", "D", "cbd", "Decoder: gg, oa, bd, cbd.")
		gfPower   = pflag.IntP("gf", "q", 8, "GF(2^q) field width, q in [1,8].")
		sys       = pflag.Bool("sys", false, "Emit each source packet systematically before coding.")
		seed      = pflag.Uint32("seed", 1, "Deterministic seed for graph and coefficient draws.")
		lossRate  = pflag.Float64P("loss", "l", 0.0, "Channel loss probability in [0,1).")
		relayed   = pflag.Bool("relay", false, "Route packets through a recoding relay hop.")
		bufSize   = pflag.Int("bufsize", 16, "Relay buffer slots per subgeneration.")
		schedName = pflag.StringP("sched", "s", "mlpi", "Relay scheduler: triv, rand, rand_sys, mlpi, mlpi_sys, nurand.")
		runs      = pflag.IntP("runs", "n", 1, "Number of independent runs (seed increments each run).")
		verbose   = pflag.BoolP("verbose", "v", false, "Debug logging.")
	)
	pflag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	typ, err := config.ParseCodeType(*codeType)
	if err != nil {
		logger.Fatal("bad --type", "err", err)
	}
	kind, err := config.ParseDecoderKind(*decName)
	if err != nil {
		logger.Fatal("bad --decoder", "err", err)
	}
	sched, err := config.ParseScheduler(*schedName)
	if err != nil {
		logger.Fatal("bad --sched", "err", err)
	}
	if *lossRate < 0 || *lossRate >= 1 {
		logger.Fatal("bad --loss", "loss", *lossRate)
	}

	overheads := make([]float64, 0, *runs)
	costs := make([]float64, 0, *runs)
	for run := 0; run < *runs; run++ {
		p := snc.CodeParams{
			DataSize: *dataSize,
			SizeP:    *sizeP,
			SizeC:    *sizeC,
			SizeB:    *sizeB,
			SizeG:    *sizeG,
			Type:     typ,
			GFPower:  *gfPower,
			Sys:      *sys,
			Seed:     *seed + uint32(run),
		}
		overhead, cost, elapsed, err := oneRun(logger, p, kind, sched, *lossRate, *relayed, *bufSize)
		if err != nil {
			logger.Fatal("run failed", "run", run, "err", err)
		}
		logger.Info("decoded",
			"run", run,
			"decoder", kind,
			"type", typ,
			"overhead", overhead,
			"cost", cost,
			"elapsed", elapsed,
		)
		overheads = append(overheads, overhead)
		costs = append(costs, cost)
	}
	if *runs > 1 {
		logger.Info("summary",
			"runs", *runs,
			"mean_overhead", stat.Mean(overheads, nil),
			"mean_cost", stat.Mean(costs, nil),
		)
	}
}

func oneRun(logger *log.Logger, p snc.CodeParams, kind decoder.Kind, sched recoder.Scheduler, lossRate float64, relayed bool, bufSize int) (overhead, cost float64, elapsed time.Duration, err error) {
	data := make([]byte, p.DataSize)
	channel := rand.New(rand.NewSource(int64(p.Seed)))
	channel.Read(data)

	ctx, err := snc.NewEncodeContext(data, p)
	if err != nil {
		return 0, 0, 0, err
	}
	dec, err := decoder.New(kind, p, ctx.Graph)
	if err != nil {
		return 0, 0, 0, err
	}

	var relay *recoder.Buffer
	if relayed {
		relay, err = recoder.NewBuffer(p, bufSize)
		if err != nil {
			return 0, 0, 0, err
		}
	}

	start := time.Now()
	sent := 0
	for !dec.Finished() {
		pkt, err := ctx.GeneratePacket()
		if err != nil {
			return 0, 0, 0, err
		}
		sent++
		if channel.Float64() < lossRate {
			continue
		}
		if relay != nil {
			relay.Insert(pkt)
			out, ok := relay.Recode(sched)
			if !ok {
				continue
			}
			pkt = out
		}
		if err := dec.ProcessPacket(pkt); err != nil {
			return 0, 0, 0, err
		}
	}
	elapsed = time.Since(start)

	got, err := dec.RecoverData()
	if err != nil {
		return 0, 0, 0, err
	}
	if len(got) != len(data) {
		return 0, 0, 0, errDataMismatch
	}
	for i := range got {
		if got[i] != data[i] {
			return 0, 0, 0, errDataMismatch
		}
	}
	logger.Debug("source recovered", "sent", sent, "dof", dec.DOF(), "bytes", len(got))
	return dec.Overhead(), dec.Cost(), elapsed, nil
}

var errDataMismatch = errors.New("recovered data differs from source")
