// sncrelay is a recoding relay: it receives serialized coded packets from
// an upstream peer over a websocket, buffers them per subgeneration, and
// serves freshly recoded packets to any number of downstream subscribers.
// The relay never decodes; every output packet is a new random linear
// combination of what it has buffered, except that the systematic-first
// schedulers forward a buffered systematic packet unchanged once.
package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rlnc-go/sparsenc/internal/config"
	"github.com/rlnc-go/sparsenc/packet"
	"github.com/rlnc-go/sparsenc/recoder"
)

var (
	packetsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snc_relay_packets_received_total",
		Help: "Packets received from upstream.",
	})
	packetsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snc_relay_packets_dropped_total",
		Help: "Upstream frames that failed to deserialize.",
	})
	packetsRecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snc_relay_packets_recoded_total",
		Help: "Recoded packets emitted downstream.",
	}, []string{"scheduler"})
	subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snc_relay_subscribers",
		Help: "Connected downstream subscribers.",
	})
)

// relay wraps the single-threaded recoder buffer for use from the upstream
// reader and the per-subscriber writers; the buffer itself stays unaware of
// concurrency, the daemon serializes access around it.
type relay struct {
	mu    sync.Mutex
	buf   *recoder.Buffer
	codec *packet.Codec
	sched recoder.Scheduler
}

func (r *relay) insert(raw []byte) bool {
	pkt, err := r.codec.Decode(raw)
	if err != nil {
		return false
	}
	r.mu.Lock()
	r.buf.Insert(pkt)
	r.mu.Unlock()
	return true
}

func (r *relay) recode() ([]byte, bool) {
	r.mu.Lock()
	pkt, ok := r.buf.Recode(r.sched)
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	raw, err := r.codec.Encode(pkt)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func main() {
	var (
		configPath = pflag.StringP("config", "c", "sncrelay.yaml", "Path to the relay config file.")
		rate       = pflag.Int("rate", 100, "Recoded packets per second per subscriber.")
	)
	pflag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("loading config", zap.Error(err))
	}
	params, err := cfg.Code.Params()
	if err != nil {
		logger.Fatal("invalid code parameters", zap.Error(err))
	}
	sched, err := config.ParseScheduler(cfg.Relay.Scheduler)
	if err != nil {
		logger.Fatal("invalid scheduler", zap.Error(err))
	}
	buf, err := recoder.NewBuffer(params, cfg.Relay.BufSize)
	if err != nil {
		logger.Fatal("building recode buffer", zap.Error(err))
	}
	codec, err := packet.NewCodec(params.SizeG, params.SizeP, params.GFPower)
	if err != nil {
		logger.Fatal("building packet codec", zap.Error(err))
	}
	r := &relay{buf: buf, codec: codec, sched: sched}

	if cfg.Relay.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics listening", zap.String("addr", cfg.Relay.MetricsAddr))
			if err := http.ListenAndServe(cfg.Relay.MetricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	go pullUpstream(logger, r, cfg.Relay.Upstream)

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/packets", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Warn("upgrade failed", zap.Error(err))
			return
		}
		subscribers.Inc()
		defer subscribers.Dec()
		defer conn.Close()
		serveSubscriber(logger, r, conn, *rate)
	})

	logger.Info("relay listening",
		zap.String("addr", cfg.Relay.Listen),
		zap.String("scheduler", sched.String()),
		zap.Int("bufsize", cfg.Relay.BufSize),
	)
	if err := http.ListenAndServe(cfg.Relay.Listen, mux); err != nil {
		logger.Fatal("relay server stopped", zap.Error(err))
	}
}

// pullUpstream keeps a websocket to the upstream packet source open,
// reconnecting with a flat backoff, and feeds every frame into the buffer.
func pullUpstream(logger *zap.Logger, r *relay, upstream string) {
	for {
		conn, _, err := websocket.DefaultDialer.Dial(upstream, nil)
		if err != nil {
			logger.Warn("upstream dial failed", zap.String("upstream", upstream), zap.Error(err))
			time.Sleep(2 * time.Second)
			continue
		}
		logger.Info("upstream connected", zap.String("upstream", upstream))
		for {
			msgType, raw, err := conn.ReadMessage()
			if err != nil {
				logger.Warn("upstream read failed", zap.Error(err))
				break
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			if r.insert(raw) {
				packetsReceived.Inc()
			} else {
				packetsDropped.Inc()
			}
		}
		conn.Close()
		time.Sleep(time.Second)
	}
}

// serveSubscriber pushes recoded packets to one downstream connection at
// the configured rate until the connection drops.
func serveSubscriber(logger *zap.Logger, r *relay, conn *websocket.Conn, rate int) {
	interval := time.Second / time.Duration(rate)
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	schedName := r.sched.String()
	for range ticker.C {
		raw, ok := r.recode()
		if !ok {
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
			logger.Info("subscriber disconnected", zap.Error(err))
			return
		}
		packetsRecoded.WithLabelValues(schedName).Inc()
	}
}
