package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hushroom/hushroom/internal/metrics"
	"github.com/hushroom/hushroom/internal/models"
	"github.com/hushroom/hushroom/internal/store"
)

// ErrTooManyConnections rejects admission when a source address is at its
// per-room connection ceiling.
var ErrTooManyConnections = errors.New("too many connections from this address")

const (
	persistQueueSize = 256
	idleCheckPeriod  = time.Minute
	idleTimeout      = 10 * time.Minute
	storeTimeout     = 5 * time.Second
)

// Actor events. Exactly one coordinator goroutine per room consumes these,
// so two near-simultaneous claims on the same name resolve in arrival
// order without locks.
type joinRequest struct {
	sess  *session
	reply chan error
}

type leaveRequest struct {
	sess *session
}

type frameSubmission struct {
	sess  *session
	frame *InboundFrame
}

type decodeFailure struct {
	sess   *session
	reason string
}

type rotateNotice struct {
	epoch    int64
	saltB64  string
	kdfIters int
}

// Room is the per-room coordinator: it owns the live session set, per-address
// connection counts, the rate limiter, and the name-claim ledger. All mutable
// state is confined to the run goroutine.
type Room struct {
	id     string
	hub    *Hub
	logger zerolog.Logger

	events    chan any
	persistCh chan any
	stopped   chan struct{}

	// Actor-owned state; touched only from run().
	epoch        int64
	saltB64      string
	kdfIters     int
	sessions     map[uuid.UUID]*session
	connsByIP    map[string]int
	claims       map[string]string // displayName -> fingerprint
	limiter      *rateLimiter
	lastActivity time.Time
}

func newRoom(h *Hub, meta *models.Room) *Room {
	r := &Room{
		id:           meta.ID,
		hub:          h,
		logger:       h.logger.With().Str("room", meta.ID).Logger(),
		events:       make(chan any, 64),
		persistCh:    make(chan any, persistQueueSize),
		stopped:      make(chan struct{}),
		epoch:        meta.Epoch,
		saltB64:      meta.SaltB64,
		kdfIters:     meta.KDFIters,
		sessions:     make(map[uuid.UUID]*session),
		connsByIP:    make(map[string]int),
		claims:       make(map[string]string),
		limiter:      newRateLimiter(h.limits.MsgsPerWindow, h.limits.RateWindow),
		lastActivity: time.Now(),
	}
	return r
}

// submit routes a decoded frame into the actor. Called from read pumps.
func (r *Room) submit(s *session, f *InboundFrame) {
	select {
	case r.events <- frameSubmission{sess: s, frame: f}:
	case <-r.stopped:
	}
}

// rejectFrame reports an undecodable frame. Called from read pumps; the
// error reply goes through the actor so a pump never touches a send
// channel the coordinator has already closed.
func (r *Room) rejectFrame(s *session, reason string) {
	select {
	case r.events <- decodeFailure{sess: s, reason: reason}:
	case <-r.stopped:
	}
}

// leave removes a session. Called from read pumps on disconnect or error.
func (r *Room) leave(s *session) {
	select {
	case r.events <- leaveRequest{sess: s}:
	case <-r.stopped:
	}
}

// join admits a session, enforcing the per-address connection ceiling.
func (r *Room) join(s *session) error {
	req := joinRequest{sess: s, reply: make(chan error, 1)}
	select {
	case r.events <- req:
	case <-r.stopped:
		return errors.New("room coordinator stopped")
	}
	select {
	case err := <-req.reply:
		return err
	case <-r.stopped:
		return errors.New("room coordinator stopped")
	}
}

// run is the actor loop. Room state and claims are reloaded from the store
// first, so name ownership survives coordinator restarts and the coordinator
// never starts on a stale epoch.
func (r *Room) run() {
	defer r.hub.wg.Done()

	r.loadState()
	r.loadClaims()

	go r.persistLoop()

	idle := time.NewTicker(idleCheckPeriod)
	defer idle.Stop()

	for {
		select {
		case ev := <-r.events:
			switch e := ev.(type) {
			case joinRequest:
				e.reply <- r.handleJoin(e.sess)
			case leaveRequest:
				r.handleLeave(e.sess)
			case frameSubmission:
				r.handleFrame(e.sess, e.frame)
			case decodeFailure:
				r.handleDecodeFailure(e)
			case rotateNotice:
				r.handleRotate(e)
			}

		case <-idle.C:
			if len(r.sessions) == 0 && time.Since(r.lastActivity) > idleTimeout {
				r.shutdown()
				return
			}

		case <-r.hub.stop:
			r.shutdown()
			return
		}
	}
}

// loadState re-reads room metadata at startup. A rotation can commit between
// the HTTP handler fetching the room and this actor spawning; adopting the
// stored epoch here keeps current-epoch traffic flowing.
func (r *Room) loadState() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	meta, err := r.hub.store.GetRoom(ctx, r.id)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to reload room state")
		return
	}
	if meta == nil || meta.Epoch <= r.epoch {
		return
	}
	r.logger.Info().Int64("from", r.epoch).Int64("to", meta.Epoch).Msg("adopting rotated epoch at startup")
	r.epoch = meta.Epoch
	r.saltB64 = meta.SaltB64
	r.kdfIters = meta.KDFIters
}

func (r *Room) loadClaims() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	claims, err := r.hub.store.ListNameClaims(ctx, r.id)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to load name claims")
		return
	}
	for _, c := range claims {
		r.claims[c.DisplayName] = c.Fingerprint
	}
	if len(claims) > 0 {
		r.logger.Debug().Int("claims", len(claims)).Msg("name claims restored")
	}
}

func (r *Room) handleJoin(s *session) error {
	if r.connsByIP[s.addr] >= r.hub.limits.MaxConnsPerIP {
		metrics.ConnectionsRejected.WithLabelValues("capacity").Inc()
		return ErrTooManyConnections
	}

	r.sessions[s.id] = s
	r.connsByIP[s.addr]++
	r.lastActivity = time.Now()
	metrics.WSConnections.Inc()

	r.logger.Debug().
		Str("session", s.id.String()).
		Str("addr", s.addr).
		Int("sessions", len(r.sessions)).
		Msg("session joined")
	return nil
}

func (r *Room) handleLeave(s *session) {
	if _, ok := r.sessions[s.id]; !ok {
		return
	}
	delete(r.sessions, s.id)
	metrics.WSConnections.Dec()

	if r.connsByIP[s.addr] > 1 {
		r.connsByIP[s.addr]--
	} else {
		delete(r.connsByIP, s.addr)
		r.limiter.Forget(s.addr)
	}
	close(s.send)

	r.logger.Debug().
		Str("session", s.id.String()).
		Int("sessions", len(r.sessions)).
		Msg("session left")
}

// handleFrame runs the admission pipeline: rate limit, structural
// validation, name ownership, then broadcast and asynchronous persistence.
// The first failure replies to the sender only.
func (r *Room) handleFrame(s *session, f *InboundFrame) {
	if _, ok := r.sessions[s.id]; !ok {
		return // departed before the frame was processed
	}
	r.lastActivity = time.Now()

	if f.Type != FrameTypeMessage || f.Message == nil {
		s.trySend(encodeError(CodeInvalidFormat, "unsupported frame type"))
		return
	}
	msg := f.Message

	if !r.limiter.Allow(s.addr, time.Now()) {
		metrics.RateLimitHits.Inc()
		metrics.MessagesRejected.WithLabelValues(CodeRateLimited).Inc()
		s.trySend(encodeError(CodeRateLimited, "message rate limit exceeded"))
		r.trackViolation(s.addr)
		return
	}

	if code, reason := validateMessage(msg, r.epoch, r.hub.limits.MaxCiphertextBytes); code != "" {
		metrics.MessagesRejected.WithLabelValues(code).Inc()
		s.trySend(encodeError(code, reason))
		return
	}

	if msg.SenderName != "" && msg.KeyFingerprint != "" {
		if !r.claimName(msg.SenderName, msg.KeyFingerprint) {
			metrics.NameConflicts.Inc()
			metrics.MessagesRejected.WithLabelValues(CodeNameTaken).Inc()
			// Force the client to pick a fresh, unclaimed identity.
			s.name = ""
			s.fingerprint = ""
			s.trySend(encodeError(CodeNameTaken, "display name is owned by a different key"))
			return
		}
		s.name = msg.SenderName
		s.fingerprint = msg.KeyFingerprint
	}

	stored := &models.Message{
		RoomID:        r.id,
		MsgID:         msg.MsgID,
		Epoch:         msg.Epoch,
		CreatedAt:     time.Now().UnixMilli(),
		IVB64:         msg.IVB64,
		CiphertextB64: msg.CiphertextB64,
		SenderName:    msg.SenderName,
	}

	// Broadcast first: real-time delivery wins over storage atomicity. A
	// persistence failure later is logged, never re-surfaced to peers.
	r.broadcast(s, stored)

	select {
	case r.persistCh <- stored:
	default:
		metrics.PersistFailures.Inc()
		r.logger.Error().Str("msg_id", stored.MsgID).Msg("persist queue full, message not stored")
	}
}

func (r *Room) handleDecodeFailure(e decodeFailure) {
	if _, ok := r.sessions[e.sess.id]; !ok {
		return
	}
	metrics.MessagesRejected.WithLabelValues(CodeInvalidFormat).Inc()
	e.sess.trySend(encodeError(CodeInvalidFormat, e.reason))
}

// claimName enforces first-claim-wins name ownership. Returns false when
// the name is held by a differing fingerprint.
func (r *Room) claimName(name, fingerprint string) bool {
	owner, ok := r.claims[name]
	if !ok {
		r.claims[name] = fingerprint
		r.persistClaim(name, fingerprint)
		return true
	}
	return owner == fingerprint
}

// persistClaim hands the claim to the persist goroutine. The in-memory
// ledger is authoritative while this actor lives, so the write happening
// after later messages is harmless.
func (r *Room) persistClaim(name, fingerprint string) {
	claim := &models.NameClaim{
		RoomID:      r.id,
		DisplayName: name,
		Fingerprint: fingerprint,
		ClaimedAt:   time.Now().UTC(),
	}
	select {
	case r.persistCh <- claim:
	default:
		r.logger.Error().Str("name", name).Msg("persist queue full, name claim not stored")
	}
}

// broadcast fans the envelope out to every other live session. Sends are
// non-blocking: a slow or dead peer misses the frame without stalling the
// others.
func (r *Room) broadcast(sender *session, msg *models.Message) {
	frame := BroadcastFrame{
		Type:          FrameTypeMessage,
		MsgID:         msg.MsgID,
		Epoch:         msg.Epoch,
		IVB64:         msg.IVB64,
		CiphertextB64: msg.CiphertextB64,
		CreatedAt:     msg.CreatedAt,
		SenderName:    msg.SenderName,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode broadcast frame")
		return
	}

	for id, peer := range r.sessions {
		if sender != nil && id == sender.id {
			continue
		}
		if !peer.trySend(data) {
			r.logger.Warn().Str("session", id.String()).Msg("peer buffer full, frame dropped")
		}
	}
	metrics.MessagesBroadcast.Inc()
}

func (r *Room) handleRotate(n rotateNotice) {
	if n.epoch <= r.epoch {
		return // epochs only move forward
	}
	r.epoch = n.epoch
	r.saltB64 = n.saltB64
	r.kdfIters = n.kdfIters

	data, err := json.Marshal(EpochFrame{
		Type:     FrameTypeEpoch,
		Epoch:    n.epoch,
		SaltB64:  n.saltB64,
		KDFIters: n.kdfIters,
	})
	if err != nil {
		return
	}
	for _, peer := range r.sessions {
		peer.trySend(data)
	}
	r.logger.Info().Int64("epoch", n.epoch).Msg("room key rotated")
}

func (r *Room) trackViolation(addr string) {
	if r.hub.cache == nil || !r.hub.limits.AutoBlock {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if r.hub.cache.TrackViolation(ctx, addr) {
			r.logger.Warn().Str("addr", addr).Msg("address blocked for repeated rate-limit violations")
		}
	}()
}

// persistLoop writes accepted messages and name claims in arrival order.
// Failures are an observability event only; the broadcast already happened.
func (r *Room) persistLoop() {
	for item := range r.persistCh {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		switch v := item.(type) {
		case *models.Message:
			r.persistMessage(ctx, v)
		case *models.NameClaim:
			if err := r.hub.store.InsertNameClaim(ctx, v); err != nil {
				r.logger.Error().Err(err).Str("name", v.DisplayName).Msg("failed to persist name claim")
			}
		}
		cancel()
	}
}

func (r *Room) persistMessage(ctx context.Context, msg *models.Message) {
	err := r.hub.store.AppendMessage(ctx, msg)
	switch {
	case errors.Is(err, store.ErrDuplicateMessage):
		metrics.DuplicateMessages.Inc()
		r.logger.Warn().Str("msg_id", msg.MsgID).Msg("duplicate message id, write dropped")
	case err != nil:
		metrics.PersistFailures.Inc()
		r.logger.Error().Err(err).Str("msg_id", msg.MsgID).Msg("message persistence failed")
	default:
		metrics.MessagesPersisted.Inc()
		if uerr := r.hub.store.UpdateRoomActivity(ctx, r.id); uerr != nil {
			r.logger.Warn().Err(uerr).Msg("failed to update room activity")
		}
		if r.hub.cache != nil {
			if cerr := r.hub.cache.CacheMessage(ctx, msg); cerr != nil {
				r.logger.Warn().Err(cerr).Msg("failed to cache message")
			}
		}
	}
}

func (r *Room) shutdown() {
	close(r.stopped)
	for _, s := range r.sessions {
		close(s.send)
		metrics.WSConnections.Dec()
	}
	r.sessions = nil
	close(r.persistCh)
	r.hub.remove(r.id)
	metrics.RoomsActive.Dec()
	r.logger.Debug().Msg("room coordinator stopped")
}
