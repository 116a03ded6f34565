package vitalvoice

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/vitalvoice-ai/vitalvoice-go/pkg/chat"
	"github.com/vitalvoice-ai/vitalvoice-go/pkg/playback"
	"github.com/vitalvoice-ai/vitalvoice-go/pkg/typewriter"
)

// BotStatus is the conversation view's reply state machine. Valid
// transitions are idle→reviewing→replying→idle, plus a stop escape from
// reviewing or replying straight back to idle.
type BotStatus string

const (
	StatusIdle      BotStatus = "idle"
	StatusReviewing BotStatus = "reviewing"
	StatusReplying  BotStatus = "replying"
)

const (
	genericSendError    = "Something went wrong. Please try again."
	genericHistoryError = "Could not load earlier messages."
)

// ConversationOptions configures a conversation controller.
type ConversationOptions struct {
	// Playback tunes the audio engine; its NewSink selects the output.
	Playback playback.Config

	// UseWebSocketTTS switches reply audio to the WebSocket transport.
	UseWebSocketTTS bool

	// OnStatus is invoked on every bot status transition.
	OnStatus func(BotStatus)

	// OnFragment receives each in-progress typewriter fragment.
	OnFragment func(fragment string)

	// OnCache receives the cache after every reconciliation.
	OnCache func(cache chat.Cache)
}

// Conversation drives one conversation view: it owns the bot status state
// machine, the playback session, and the typewriter, and reconciles
// everything into the shared chat cache. At most one playback session and
// one reveal are live at a time; starting new work tears down the old.
type Conversation struct {
	client *Client
	engine *playback.Engine
	tw     *typewriter.Engine
	opener playback.StreamOpener

	onStatus   func(BotStatus)
	onFragment func(string)
	onCache    func(chat.Cache)

	mu        sync.Mutex
	cache     chat.Cache
	active    string
	status    BotStatus
	errText   string
	page      int
	hasMore   bool
	created   string // server id of a conversation created this session
	pending   string // first reply waiting to play after a create
	pendingID string
	sess      *playback.Session
	replyConv string // conversation the current reveal finalizes into
	audioMode bool
}

// NewConversation opens a conversation view controller. id may be empty to
// start on a fresh, unpersisted conversation.
func (c *Client) NewConversation(id string, opts ConversationOptions) *Conversation {
	if id == "" {
		id = chat.NewLocalID()
	}
	pb := opts.Playback
	if pb.SampleRate <= 0 {
		pb.SampleRate = c.sampleRate
	}
	if pb.Logger == nil {
		pb.Logger = c.logger
	}

	cv := &Conversation{
		client:     c,
		active:     id,
		status:     StatusIdle,
		hasMore:    true,
		cache:      chat.NewCache(chat.Conversation{ID: id}),
		onStatus:   opts.OnStatus,
		onFragment: opts.OnFragment,
		onCache:    opts.OnCache,
	}
	cv.engine = playback.NewEngine(pb)
	cv.tw = typewriter.New(c.typingTick, cv.handleTick, cv.handleDone)
	cv.opener = c.Speech.Stream
	if opts.UseWebSocketTTS {
		cv.opener = c.Speech.StreamWS
	}
	return cv
}

// ActiveID returns the currently shown conversation id.
func (cv *Conversation) ActiveID() string {
	return cv.activeID()
}

// Status returns the current bot status.
func (cv *Conversation) Status() BotStatus {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.status
}

// Cache returns the current chat cache snapshot.
func (cv *Conversation) Cache() chat.Cache {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.cache
}

// ErrorText returns the inline error from the last failed operation, or "".
func (cv *Conversation) ErrorText() string {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.errText
}

// SendMessage posts a user message to the active conversation and plays the
// reply as synchronized audio plus typewriter reveal. It blocks until the
// reply has audibly finished, the send fails, or the session is torn down;
// UI callers should run it on its own goroutine. A send with neither text
// nor attachments is a no-op.
func (cv *Conversation) SendMessage(ctx context.Context, text string, files []chat.Attachment) error {
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return nil
	}

	cv.mu.Lock()
	if cv.sess != nil {
		cv.sess.Stop()
	}
	cv.mu.Unlock()
	if cv.tw.Active() {
		// A reveal can outlive its audio. Finalize it at the current
		// fragment before seeding a new placeholder, otherwise the
		// previous reply would be cancelled silently and lost.
		cv.tw.Stop(cv.tw.Fragment())
	}

	cv.mu.Lock()
	convID := cv.active
	cv.errText = ""
	sess := playback.NewSession(convID, cv.activeID)
	cv.sess = sess
	user := chat.Message{Role: chat.RoleUser, Text: text, Files: files}
	placeholder := chat.Message{Role: chat.RoleAssistant, IsTyping: true}
	cv.cache = cv.cache.AppendMessages(convID, []chat.Message{user, placeholder}, chat.EdgeEnd)
	cv.cache = cv.cache.MoveToFront(convID)
	cv.status = StatusReviewing
	cache := cv.cache
	cv.mu.Unlock()
	cv.notifyCache(cache)
	cv.notifyStatus(StatusReviewing)

	imageURI := ""
	if len(files) > 0 && len(files[0].Data) > 0 {
		uri, err := cv.client.Media.UploadImage(ctx, bytes.NewReader(files[0].Data), files[0].Name)
		if err != nil {
			return cv.failSend(sess, convID, err)
		}
		imageURI = uri
	}

	var replyRaw any
	if chat.IsPersistedID(convID) {
		raw, err := cv.client.Chat.Send(ctx, convID, text, imageURI)
		if err != nil {
			return cv.failSend(sess, convID, err)
		}
		replyRaw = raw
	} else {
		res, err := cv.client.Chat.Create(ctx, text, titleFromText(text), imageURI)
		if err != nil {
			return cv.failSend(sess, convID, err)
		}
		cv.mu.Lock()
		if !sess.Stopped() && cv.active == convID {
			cv.cache = cv.cache.Rekey(convID, res.ConversationID)
			cv.active = res.ConversationID
			cv.created = res.ConversationID
			sess.Rebind(res.ConversationID)
			cache = cv.cache
			cv.mu.Unlock()
			cv.notifyCache(cache)
		} else {
			cv.mu.Unlock()
		}
		replyRaw = res.Reply
	}

	if sess.Stale() {
		return nil
	}
	cv.playReply(ctx, sess, chat.ReplyText(replyRaw))
	return nil
}

// Stop cancels the in-flight reply from reviewing or replying. The reveal
// finalizes with the partially displayed text: stopping is a cut, not a
// skip to the end.
func (cv *Conversation) Stop() {
	cv.mu.Lock()
	sess := cv.sess
	cv.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
	if cv.tw.Active() {
		cv.tw.Stop(cv.tw.Fragment())
		return
	}

	// Stopped before any reveal began; close out the empty placeholder.
	cv.mu.Lock()
	cv.cache = cv.cache.FinalizeTyping(cv.active, "")
	changed := cv.status != StatusIdle
	cv.status = StatusIdle
	cache := cv.cache
	cv.mu.Unlock()
	cv.notifyCache(cache)
	if changed {
		cv.notifyStatus(StatusIdle)
	}
}

// Switch navigates to another conversation: the previous session is torn
// down, transient state resets, and history reloads, unless this id was
// just created with its first reply already in hand, in which case that
// reply plays immediately, exactly once.
func (cv *Conversation) Switch(ctx context.Context, id string) error {
	cv.mu.Lock()
	if id == cv.active {
		cv.mu.Unlock()
		return nil
	}
	prev := cv.active
	prevBusy := cv.status != StatusIdle
	if cv.sess != nil {
		cv.sess.Stop()
	}
	cv.mu.Unlock()

	if cv.tw.Active() {
		// Finalizes into the conversation the reveal belongs to.
		cv.tw.Stop(cv.tw.Fragment())
	} else if prevBusy {
		// Navigated away before the reveal began; close out the empty
		// placeholder so it does not linger in the old conversation.
		cv.mu.Lock()
		cv.cache = cv.cache.FinalizeTyping(prev, "")
		cv.mu.Unlock()
	}

	cv.mu.Lock()
	cv.active = id
	cv.errText = ""
	cv.page = 0
	cv.hasMore = true
	changed := cv.status != StatusIdle
	cv.status = StatusIdle
	pending := ""
	if cv.pendingID == id && cv.pending != "" {
		pending = cv.pending
		cv.pending = ""
		cv.pendingID = ""
	}
	skipHistory := pending != "" || id == cv.created || !chat.IsPersistedID(id)
	sess := playback.NewSession(id, cv.activeID)
	cv.sess = sess
	cv.mu.Unlock()
	if changed {
		cv.notifyStatus(StatusIdle)
	}

	if pending != "" {
		cv.mu.Lock()
		cv.cache = cv.cache.AppendMessages(id,
			[]chat.Message{{Role: chat.RoleAssistant, IsTyping: true}}, chat.EdgeEnd)
		cache := cv.cache
		cv.mu.Unlock()
		cv.notifyCache(cache)
		cv.playReply(ctx, sess, pending)
		return nil
	}
	if skipHistory {
		return nil
	}
	return cv.LoadOlder(ctx)
}

// BeginConversation starts a brand-new conversation from the new-chat
// screen: it posts the opening message, seeds the cache with the exchange,
// and switches to the new id, where the first reply plays without a history
// round trip.
func (cv *Conversation) BeginConversation(ctx context.Context, text string, files []chat.Attachment) (string, error) {
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return "", nil
	}

	imageURI := ""
	if len(files) > 0 && len(files[0].Data) > 0 {
		uri, err := cv.client.Media.UploadImage(ctx, bytes.NewReader(files[0].Data), files[0].Name)
		if err != nil {
			cv.setError(genericSendError)
			return "", err
		}
		imageURI = uri
	}

	title := titleFromText(text)
	res, err := cv.client.Chat.Create(ctx, text, title, imageURI)
	if err != nil {
		cv.setError(genericSendError)
		return "", err
	}

	cv.mu.Lock()
	cv.cache = cv.cache.Upsert(res.ConversationID, chat.Patch{
		Title:    &title,
		Messages: []chat.Message{{Role: chat.RoleUser, Text: text, Files: files}},
	})
	cv.cache = cv.cache.MoveToFront(res.ConversationID)
	cv.created = res.ConversationID
	cv.pending = chat.ReplyText(res.Reply)
	cv.pendingID = res.ConversationID
	cache := cv.cache
	cv.mu.Unlock()
	cv.notifyCache(cache)

	return res.ConversationID, cv.Switch(ctx, res.ConversationID)
}

// LoadOlder fetches the next older history page for the active conversation
// and merges it at the older edge. A short page, or a page consisting
// entirely of already-cached messages, ends pagination. No-op for
// unpersisted ids and for a conversation created in this session.
func (cv *Conversation) LoadOlder(ctx context.Context) error {
	cv.mu.Lock()
	id := cv.active
	page := cv.page + 1
	if !cv.hasMore || !chat.IsPersistedID(id) || id == cv.created {
		cv.mu.Unlock()
		return nil
	}
	limit := cv.client.pageSize
	cv.mu.Unlock()

	msgs, more, err := cv.client.History.Page(ctx, id, page, limit)

	cv.mu.Lock()
	if cv.active != id {
		// Switched away while fetching; discard silently.
		cv.mu.Unlock()
		return nil
	}
	if err != nil {
		cv.errText = genericHistoryError
		cv.mu.Unlock()
		return err
	}
	if page > 1 && more {
		allDup := len(msgs) > 0
		for _, m := range msgs {
			if m.ID == "" || !cv.cache.ContainsMessage(id, m.ID) {
				allDup = false
				break
			}
		}
		if allDup {
			// The backend served a stale overlapping page; stop paging.
			more = false
		}
	}
	cv.cache = cv.cache.AppendMessages(id, msgs, chat.EdgeStart)
	cv.page = page
	cv.hasMore = more
	cache := cv.cache
	cv.mu.Unlock()
	cv.notifyCache(cache)
	return nil
}

// Rename updates a conversation title server-side and in the cache.
func (cv *Conversation) Rename(ctx context.Context, id, title string) error {
	if err := cv.client.Chat.Rename(ctx, id, title); err != nil {
		cv.setError(genericSendError)
		return err
	}
	cv.mu.Lock()
	cv.cache = cv.cache.Upsert(id, chat.Patch{Title: &title})
	cache := cv.cache
	cv.mu.Unlock()
	cv.notifyCache(cache)
	return nil
}

// Delete removes a conversation server-side and drops it from the cache.
// Deleting the active conversation moves the view to a fresh local one.
func (cv *Conversation) Delete(ctx context.Context, id string) error {
	if chat.IsPersistedID(id) {
		if err := cv.client.Chat.Delete(ctx, id); err != nil {
			cv.setError(genericSendError)
			return err
		}
	}
	cv.mu.Lock()
	cv.cache = cv.cache.Remove(id)
	wasActive := cv.active == id
	cache := cv.cache
	cv.mu.Unlock()
	cv.notifyCache(cache)
	if wasActive {
		return cv.Switch(ctx, chat.NewLocalID())
	}
	return nil
}

func (cv *Conversation) playReply(ctx context.Context, sess *playback.Session, reply string) {
	cv.mu.Lock()
	cv.audioMode = true
	cv.replyConv = sess.Owner()
	cv.mu.Unlock()

	hooks := playback.Hooks{
		FirstChunk: func() {
			if sess.Stale() {
				return
			}
			cv.setStatus(StatusReplying)
			cv.tw.Start(reply)
		},
		Done: func() {
			cv.mu.Lock()
			if cv.tw.Active() {
				// Scheduled audio ended before the reveal caught up.
				// The reveal's own completion takes status to idle;
				// flipping it here would reopen input mid-reply.
				cv.audioMode = false
				cv.mu.Unlock()
				return
			}
			cv.mu.Unlock()
			cv.setStatus(StatusIdle)
		},
		Fallback: func(err error) {
			if sess.Stale() {
				return
			}
			cv.mu.Lock()
			cv.audioMode = false
			cv.mu.Unlock()
			cv.setStatus(StatusReplying)
			cv.tw.Start(reply)
		},
	}
	cv.engine.Play(ctx, sess, reply, cv.opener, hooks)
}

func (cv *Conversation) failSend(sess *playback.Session, convID string, err error) error {
	if sess.Stale() {
		// Switched away or stopped mid-flight; nothing to roll back here.
		return err
	}
	cv.mu.Lock()
	cv.errText = genericSendError
	cv.cache = cv.cache.DropTyping(convID)
	changed := cv.status != StatusIdle
	cv.status = StatusIdle
	cache := cv.cache
	cv.mu.Unlock()
	cv.notifyCache(cache)
	if changed {
		cv.notifyStatus(StatusIdle)
	}
	return err
}

func (cv *Conversation) handleTick(frag string) {
	if cv.onFragment != nil {
		cv.onFragment(frag)
	}
}

// handleDone is the single finalization point for a reveal: the in-flight
// placeholder gets its final text exactly once, whether the reveal ran to
// completion or was cut by Stop.
func (cv *Conversation) handleDone(final string) {
	cv.mu.Lock()
	conv := cv.replyConv
	if conv == "" {
		conv = cv.active
	}
	cv.cache = cv.cache.FinalizeTyping(conv, final)
	toIdle := !cv.audioMode || (cv.sess != nil && cv.sess.Stopped())
	changed := toIdle && cv.status != StatusIdle
	if changed {
		cv.status = StatusIdle
	}
	cache := cv.cache
	cv.mu.Unlock()
	cv.notifyCache(cache)
	if changed {
		cv.notifyStatus(StatusIdle)
	}
}

func (cv *Conversation) activeID() string {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.active
}

func (cv *Conversation) setStatus(s BotStatus) {
	cv.mu.Lock()
	if cv.status == s {
		cv.mu.Unlock()
		return
	}
	cv.status = s
	cv.mu.Unlock()
	cv.notifyStatus(s)
}

func (cv *Conversation) setError(msg string) {
	cv.mu.Lock()
	cv.errText = msg
	cv.mu.Unlock()
}

func (cv *Conversation) notifyStatus(s BotStatus) {
	if cv.onStatus != nil {
		cv.onStatus(s)
	}
}

func (cv *Conversation) notifyCache(cache chat.Cache) {
	if cv.onCache != nil {
		cv.onCache(cache)
	}
}

// titleFromText derives a sidebar title from the opening message.
func titleFromText(text string) string {
	text = strings.TrimSpace(text)
	const maxTitle = 40
	runes := []rune(text)
	if len(runes) <= maxTitle {
		if text == "" {
			return "New chat"
		}
		return text
	}
	return string(runes[:maxTitle]) + "…"
}
