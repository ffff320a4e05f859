package chat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/friendchat/internal/metrics"
)

// PageSize is the number of messages returned per message.list page.
const PageSize = 15

// Options tunes how a Service renders and validates payloads.
type Options struct {
	MediaURL       string
	MaxAvatarBytes int
}

// Service executes inbound frames against the store and publishes the
// results. It keeps no per-session state: the caller's identity is passed
// into every call, so one Service is shared by all sessions.
type Service struct {
	store  Store
	pub    Publisher
	views  Views
	avatar AvatarPolicy
	log    *zap.Logger
}

// NewService wires a Service to its store and publisher.
func NewService(store Store, pub Publisher, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:  store,
		pub:    pub,
		views:  Views{MediaURL: opts.MediaURL},
		avatar: AvatarPolicy{MaxBytes: opts.MaxAvatarBytes},
		log:    log.Named("chat"),
	}
}

// Handle decodes one inbound frame from caller and runs the handler bound to
// its tag. A non-nil error means the frame was dropped without a response;
// it has already been logged and counted.
func (s *Service) Handle(ctx context.Context, caller User, raw []byte) error {
	frame, err := DecodeFrame(raw)
	if err != nil {
		s.drop(frame, caller, err)
		return err
	}

	metrics.FramesReceived.WithLabelValues(frame.Tag.String()).Inc()
	start := time.Now()
	err = s.dispatch(ctx, caller, frame)
	metrics.HandlerLatency.WithLabelValues(frame.Tag.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		s.drop(frame, caller, err)
	}
	return err
}

func (s *Service) dispatch(ctx context.Context, caller User, frame Frame) error {
	switch frame.Tag {
	case TagSearch:
		return s.search(ctx, caller, frame)
	case TagMessageList:
		return s.messageList(ctx, caller, frame)
	case TagMessageSend:
		return s.messageSend(ctx, caller, frame)
	case TagMessageType:
		return s.messageType(caller, frame)
	case TagRequestAccept:
		return s.requestAccept(ctx, caller, frame)
	case TagRequestConnect:
		return s.requestConnect(ctx, caller, frame)
	case TagRequestList:
		return s.requestList(ctx, caller)
	case TagFriendList:
		return s.friendList(ctx, caller)
	case TagThumbnail:
		return s.thumbnail(ctx, caller, frame)
	default:
		return fmt.Errorf("%w: unknown source %q", ErrMalformed, frame.Source)
	}
}

func (s *Service) search(ctx context.Context, caller User, frame Frame) error {
	var req struct {
		Query *string `json:"query"`
	}
	if err := frame.Bind(&req); err != nil {
		return err
	}
	if req.Query == nil {
		return fmt.Errorf("%w: search without query", ErrMalformed)
	}

	users, err := s.store.SearchUsers(ctx, *req.Query, caller.ID)
	if err != nil {
		return fmt.Errorf("search users: %w", err)
	}

	results := make([]SearchView, 0, len(users))
	for _, u := range users {
		if u.ID == caller.ID {
			continue
		}
		status, err := s.relationship(ctx, caller.ID, u.ID)
		if err != nil {
			return err
		}
		results = append(results, s.views.Search(u, status))
	}

	s.pub.Publish(caller.Username, TagSearch, results)
	return nil
}

// relationship classifies other from me's point of view. The checks run in
// priority order so every pair maps to exactly one status.
func (s *Service) relationship(ctx context.Context, me, other int64) (string, error) {
	checks := []struct {
		filter EdgeFilter
		status string
	}{
		{EdgeFilter{SenderID: me, ReceiverID: other}, StatusPendingThem},
		{EdgeFilter{SenderID: other, ReceiverID: me}, StatusPendingMe},
		{EdgeFilter{SenderID: me, ReceiverID: other, Accepted: true, EitherDirection: true}, StatusConnected},
	}
	for _, check := range checks {
		ok, err := s.edgeExists(ctx, check.filter)
		if err != nil {
			return "", err
		}
		if ok {
			return check.status, nil
		}
	}
	return StatusNoConnection, nil
}

func (s *Service) edgeExists(ctx context.Context, filter EdgeFilter) (bool, error) {
	_, err := s.store.FindEdge(ctx, filter)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("find edge: %w", err)
	}
}

func (s *Service) messageList(ctx context.Context, caller User, frame Frame) error {
	var req struct {
		ConnectionID *int64 `json:"connectionId"`
		Page         *int   `json:"page"`
	}
	if err := frame.Bind(&req); err != nil {
		return err
	}
	if req.ConnectionID == nil || req.Page == nil || *req.Page < 0 {
		return fmt.Errorf("%w: message.list needs connectionId and a non-negative page", ErrMalformed)
	}
	// (page+1)*PageSize must fit in an int.
	if *req.Page > math.MaxInt/PageSize-1 {
		return fmt.Errorf("%w: message.list page %d out of range", ErrMalformed, *req.Page)
	}
	page := *req.Page

	conn, err := s.participantEdge(ctx, caller, *req.ConnectionID)
	if err != nil {
		return err
	}

	messages, err := s.store.ListMessages(ctx, conn.ID, page*PageSize, PageSize)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	total, err := s.store.CountMessages(ctx, conn.ID)
	if err != nil {
		return fmt.Errorf("count messages: %w", err)
	}

	view := MessageListView{
		Messages: make([]MessageView, 0, len(messages)),
		Friend:   s.views.User(conn.Other(caller.ID)),
	}
	for _, m := range messages {
		view.Messages = append(view.Messages, s.views.Message(m, caller.ID))
	}
	if total > (page+1)*PageSize {
		next := page + 1
		view.Next = &next
	}

	s.pub.Publish(caller.Username, TagMessageList, view)
	return nil
}

func (s *Service) messageSend(ctx context.Context, caller User, frame Frame) error {
	var req struct {
		ConnectionID *int64  `json:"connectionId"`
		Message      *string `json:"message"`
	}
	if err := frame.Bind(&req); err != nil {
		return err
	}
	if req.ConnectionID == nil || req.Message == nil || *req.Message == "" {
		return fmt.Errorf("%w: message.send needs connectionId and message", ErrMalformed)
	}

	conn, err := s.participantEdge(ctx, caller, *req.ConnectionID)
	if err != nil {
		return err
	}

	msg, err := s.store.CreateMessage(ctx, conn.ID, caller.ID, *req.Message)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}

	// Profiles come from the edge so both sides see current avatars.
	recipient := conn.Other(caller.ID)
	author := conn.Other(recipient.ID)

	s.pub.Publish(author.Username, TagMessageSend, MessageSendView{
		Message: s.views.Message(msg, author.ID),
		Friend:  s.views.User(recipient),
	})
	s.pub.Publish(recipient.Username, TagMessageSend, MessageSendView{
		Message: s.views.Message(msg, recipient.ID),
		Friend:  s.views.User(author),
	})
	return nil
}

func (s *Service) messageType(caller User, frame Frame) error {
	target, err := bindHandle(frame)
	if err != nil {
		return err
	}
	s.pub.Publish(target, TagMessageType, TypingView{Username: caller.Username})
	return nil
}

func (s *Service) requestAccept(ctx context.Context, caller User, frame Frame) error {
	handle, err := bindHandle(frame)
	if err != nil {
		return err
	}

	sender, err := s.store.FindUserByHandle(ctx, handle)
	if err != nil {
		return fmt.Errorf("request sender %q: %w", handle, err)
	}
	pending, err := s.store.FindEdge(ctx, EdgeFilter{SenderID: sender.ID, ReceiverID: caller.ID})
	if err != nil {
		return fmt.Errorf("pending request from %q: %w", handle, err)
	}
	conn, err := s.store.AcceptEdge(ctx, pending.ID)
	if err != nil {
		return fmt.Errorf("accept request %d: %w", pending.ID, err)
	}

	request := s.views.Request(conn)
	s.pub.Publish(conn.Sender.Username, TagRequestAccept, request)
	s.pub.Publish(conn.Receiver.Username, TagRequestAccept, request)

	friendship := Friendship{Connection: conn}
	s.pub.Publish(conn.Sender.Username, TagFriendNew, s.views.Friend(friendship, conn.Sender.ID))
	s.pub.Publish(conn.Receiver.Username, TagFriendNew, s.views.Friend(friendship, conn.Receiver.ID))
	return nil
}

// requestConnect reuses an existing caller→target edge unchanged. An edge in
// the opposite direction is not consulted, so a crossed request yields two
// independent edges.
func (s *Service) requestConnect(ctx context.Context, caller User, frame Frame) error {
	handle, err := bindHandle(frame)
	if err != nil {
		return err
	}

	target, err := s.store.FindUserByHandle(ctx, handle)
	if err != nil {
		return fmt.Errorf("request target %q: %w", handle, err)
	}
	if target.ID == caller.ID {
		return fmt.Errorf("%w: request to self", ErrMalformed)
	}

	conn, err := s.store.GetOrCreateEdge(ctx, caller.ID, target.ID)
	if err != nil {
		return fmt.Errorf("get or create edge: %w", err)
	}

	request := s.views.Request(conn)
	s.pub.Publish(conn.Sender.Username, TagRequestConnect, request)
	s.pub.Publish(conn.Receiver.Username, TagRequestConnect, request)
	return nil
}

func (s *Service) requestList(ctx context.Context, caller User) error {
	pending, err := s.store.ListPendingEdges(ctx, caller.ID)
	if err != nil {
		return fmt.Errorf("list pending edges: %w", err)
	}
	s.pub.Publish(caller.Username, TagRequestList, s.views.Requests(pending))
	return nil
}

func (s *Service) friendList(ctx context.Context, caller User) error {
	friends, err := s.store.ListAcceptedEdges(ctx, caller.ID)
	if err != nil {
		return fmt.Errorf("list accepted edges: %w", err)
	}
	views := make([]FriendView, 0, len(friends))
	for _, f := range friends {
		views = append(views, s.views.Friend(f, caller.ID))
	}
	s.pub.Publish(caller.Username, TagFriendList, views)
	return nil
}

func (s *Service) thumbnail(ctx context.Context, caller User, frame Frame) error {
	var req struct {
		Base64   *string `json:"base64"`
		Filename *string `json:"filename"`
	}
	if err := frame.Bind(&req); err != nil {
		return err
	}
	if req.Base64 == nil || req.Filename == nil {
		return fmt.Errorf("%w: thumbnail needs base64 and filename", ErrMalformed)
	}

	data, name, err := s.avatar.Decode(*req.Base64, *req.Filename)
	if err != nil {
		return err
	}
	user, err := s.store.UpdateUserAvatar(ctx, caller.ID, data, name)
	if err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}

	s.pub.Publish(caller.Username, TagThumbnail, s.views.User(user))
	return nil
}

// participantEdge loads a connection the caller takes part in.
func (s *Service) participantEdge(ctx context.Context, caller User, id int64) (Connection, error) {
	conn, err := s.store.FindEdgeByID(ctx, id)
	if err != nil {
		return Connection{}, fmt.Errorf("connection %d: %w", id, err)
	}
	if !conn.Involves(caller.ID) {
		return Connection{}, fmt.Errorf("%w: connection %d", ErrForbidden, id)
	}
	return conn, nil
}

// bindHandle reads the username field used by the request and typing tags.
func bindHandle(frame Frame) (string, error) {
	var req struct {
		Username *string `json:"username"`
	}
	if err := frame.Bind(&req); err != nil {
		return "", err
	}
	if req.Username == nil {
		return "", fmt.Errorf("%w: %s without username", ErrMalformed, frame.Source)
	}
	handle := NormalizeHandle(*req.Username)
	if handle == "" {
		return "", fmt.Errorf("%w: %s with empty username", ErrMalformed, frame.Source)
	}
	return handle, nil
}

// NormalizeHandle applies the case normalization handles receive at sign-up.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrAvatarRejected):
		return "avatar_rejected"
	default:
		return "store_error"
	}
}

func (s *Service) drop(frame Frame, caller User, err error) {
	reason := dropReason(err)
	metrics.FramesDropped.WithLabelValues(frame.Tag.String(), reason).Inc()

	fields := []zap.Field{
		zap.String("source", frame.Source),
		zap.String("handle", caller.Username),
		zap.String("reason", reason),
		zap.Error(err),
	}
	if reason == "store_error" {
		s.log.Error("Handler failed; frame dropped", fields...)
		return
	}
	s.log.Info("Frame dropped", fields...)
}
