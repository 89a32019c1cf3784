package gw

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/akhenakh/loragw/forward"
	"github.com/akhenakh/loragw/metrics"
	"github.com/akhenakh/loragw/rxpk"
	"github.com/akhenakh/loragw/storage"
)

// max UDP payload
const maxPacketSize = 65507

type Server struct {
	appName    string
	logger     log.Logger
	DB         storage.Store
	Forwarders []forward.Forwarder
	now        func() time.Time

	mu      sync.Mutex
	udpConn *net.UDPConn
}

func NewServer(appName string, logger log.Logger, db storage.Store, fwds ...forward.Forwarder) *Server {
	logger = log.With(logger, "component", "gw")
	return &Server{
		appName:    appName,
		logger:     logger,
		DB:         db,
		Forwarders: fwds,
		now:        time.Now,
	}
}

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udpConn != nil {
		s.udpConn.Close()
	}
}

// LocalAddr returns the listening address, nil before StartListener
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udpConn == nil {
		return nil
	}
	return s.udpConn.LocalAddr()
}

// StartListener listens for gateways on addr, packets are handled in the background
// until ctx is done or Close is called.
func (s *Server) StartListener(ctx context.Context, addr string) error {
	serverAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		level.Error(s.logger).Log("msg", "gw server: failed to resolve", "error", err)
		return err
	}

	/* Now listen at selected port */
	conn, err := net.ListenUDP("udp", serverAddr)
	if err != nil {
		level.Error(s.logger).Log("msg", "gw server: failed to listen", "error", err)
		return err
	}

	s.mu.Lock()
	s.udpConn = conn
	s.mu.Unlock()

	level.Info(s.logger).Log("msg", fmt.Sprintf("GW UDP server listening at %s", conn.LocalAddr()))

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, maxPacketSize)
	go func() {
		for {
			n, raddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				level.Warn(s.logger).Log("msg", "error reading on the GW", "error", err)
				continue
			}
			err = s.handlePacket(ctx, conn, raddr, buf[0:n])
			if err != nil {
				metrics.ErrorCounter.Inc()
				level.Error(s.logger).Log("msg", "error handling msg received on the GW", "addr", raddr, "error", err)
				continue
			}
		}
	}()
	return nil
}

func (s *Server) handlePacket(ctx context.Context, conn *net.UDPConn, addr *net.UDPAddr, p []byte) error {
	pkt, err := ParsePacket(p)
	if err != nil {
		return err
	}

	if _, err := conn.WriteToUDP(Ack(pkt), addr); err != nil {
		level.Warn(s.logger).Log("msg", "can't ack packet", "addr", addr, "error", err)
	}

	gwID := pkt.GatewayIDString()

	switch pkt.Type {
	case PullData:
		metrics.PacketReceivedCounter.WithLabelValues(metrics.PullDataType).Inc()
		level.Debug(s.logger).Log("msg", "received PULL_DATA", "gateway_id", gwID, "addr", addr)
		return nil
	default:
		metrics.PacketReceivedCounter.WithLabelValues(metrics.PushDataType).Inc()
		_, err := s.HandlePushData(ctx, gwID, pkt.Payload)
		return err
	}
}

// HandlePushData decodes every rxpk of a PUSH_DATA JSON object, invalid entries
// are logged and skipped. Returns the count of accepted rxpk.
func (s *Server) HandlePushData(ctx context.Context, gatewayID string, payload []byte) (int, error) {
	ujson, err := DecodeUpstream(payload)
	if err != nil {
		return 0, err
	}

	// this could be a stat packet
	if len(ujson.Rxpk) == 0 {
		level.Debug(s.logger).Log("msg", "received PUSH_DATA without rxpk", "gateway_id", gatewayID)
		return 0, nil
	}

	accepted := 0
	for i, raw := range ujson.Rxpk {
		r, err := rxpk.DecodeJSON(raw)
		if err != nil {
			reason := rxpk.Reason(err)
			metrics.RxpkDecodeErrorCounter.WithLabelValues(reason).Inc()
			level.Info(s.logger).Log(
				"msg", "skipping invalid rxpk",
				"gateway_id", gatewayID,
				"index", i,
				"reason", reason,
				"error", err,
			)
			continue
		}
		metrics.RxpkReceivedCounter.Inc()
		accepted++

		f := storage.NewFrame(gatewayID, r, s.now())
		level.Debug(s.logger).Log("msg", "received rxpk", "gateway_id", gatewayID, "frame_id", f.ID, "rxpk", r)
		s.handleFrame(ctx, f)
	}

	return accepted, nil
}

func (s *Server) handleFrame(ctx context.Context, f storage.Frame) {
	if s.DB != nil {
		if err := s.DB.Store(f); err != nil {
			metrics.ErrorCounter.Inc()
			level.Error(s.logger).Log("msg", "can't store frame in DB", "gateway_id", f.GatewayID, "error", err)
		} else {
			metrics.InsertCounter.Inc()
		}
	}

	for _, fwd := range s.Forwarders {
		if err := fwd.Forward(ctx, f); err != nil {
			metrics.ForwardErrorCounter.WithLabelValues(fwd.Via()).Inc()
			level.Error(s.logger).Log("msg", "can't forward frame", "via", fwd.Via(), "gateway_id", f.GatewayID, "error", err)
			continue
		}
		metrics.ForwardedCounter.WithLabelValues(fwd.Via()).Inc()
	}
}
