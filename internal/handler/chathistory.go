package handler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/presbrey/ircd/internal/modes"
	"github.com/presbrey/ircd/internal/store"
)

// serverTimeLayout is the IRCv3 server-time tag's wire format:
// RFC 3339 with millisecond precision, always UTC.
const serverTimeLayout = "2006-01-02T15:04:05.000Z"

func formatServerTime(nanotime int64) string {
	return time.Unix(0, nanotime).UTC().Format(serverTimeLayout)
}

// historyEnvelope is the JSON record spec.md §4.7 names for a stored
// history row: "{command, prefix, target, text, tags}" so the schema can
// evolve without a migration. nanotime/msgid live as separate columns
// (store.MessageHistoryEntry), not inside the envelope itself.
type historyEnvelope struct {
	Command string            `json:"command"`
	Prefix  string            `json:"prefix"`
	Target  string            `json:"target"`
	Text    string            `json:"text"`
	Tags    map[string]string `json:"tags,omitempty"`
}

func encodeEnvelope(command, prefix, target, text string, tags map[string]string) []byte {
	b, _ := json.Marshal(historyEnvelope{Command: command, Prefix: prefix, Target: target, Text: text, Tags: tags})
	return b
}

// formatHistoryLine renders a stored envelope back into a wire-ready
// message tagged with its original nanotime as server-time and the
// stored msgid, so a CHATHISTORY reply is indistinguishable from the
// message having just arrived.
func formatHistoryLine(msgID string, nanotime int64, envelope []byte) (string, bool) {
	var env historyEnvelope
	if err := json.Unmarshal(envelope, &env); err != nil {
		return "", false
	}
	ts := formatServerTime(nanotime)
	line := fmt.Sprintf("@time=%s;msgid=%s :%s %s %s :%s", ts, msgID, env.Prefix, env.Command, env.Target, env.Text)
	return line, true
}

// recordMessage persists a channel or private message to history, a
// no-op when Deps.History is nil or (for a private target) when
// StorePrivateMessages is off, matching spec.md §4.7's "private messages
// are stored separately and disabled by default."
func (r *Registry) recordMessage(command, sender, target, text string, nanotime int64) {
	if r.deps.History == nil {
		return
	}
	envelope := encodeEnvelope(command, sender, target, text, nil)
	msgID := uuid.NewString()
	if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&") {
		r.deps.History.AppendMessageHistory(msgID, modes.NormalizeChannel(target), sender, "", envelope, nanotime)
		return
	}
	if r.deps.StorePrivateMessages {
		r.deps.History.AppendPrivateMessageHistory(msgID, target, sender, "", envelope, nanotime)
	}
}

// chatHistoryLimit clamps a client-requested count to Deps.ChatHistoryMax
// (0 means unconfigured, in which case a conservative built-in default
// applies rather than letting an unbounded deployment reply with its
// entire history table).
func (r *Registry) chatHistoryLimit(requested int) int {
	max := r.deps.ChatHistoryMax
	if max <= 0 {
		max = 100
	}
	if requested <= 0 || requested > max {
		return max
	}
	return requested
}

// handleChatHistory implements CHATHISTORY's six subcommands (spec.md
// §4.7): LATEST, BEFORE, AFTER, AROUND, BETWEEN, TARGETS. Replies are
// wrapped in a "chathistory" BATCH per the draft/chathistory
// specification, queued through ctx.Send so the Registry's usual label
// wrapping still applies around the whole batch.
func (r *Registry) handleChatHistory(ctx *Context, params []string) {
	if len(params) < 1 {
		ctx.NeedMoreParams("CHATHISTORY")
		return
	}
	sub := strings.ToUpper(params[0])
	args := params[1:]

	if r.deps.History == nil {
		ctx.Send(fmt.Sprintf(":%s FAIL CHATHISTORY MESSAGE_ERROR %s :Message history is not available", ctx.prefix(), sub))
		return
	}

	switch sub {
	case "TARGETS":
		r.chatHistoryTargets(ctx, args)
	case "LATEST":
		r.chatHistoryWindow(ctx, args, windowLatest)
	case "BEFORE":
		r.chatHistoryWindow(ctx, args, windowBefore)
	case "AFTER":
		r.chatHistoryWindow(ctx, args, windowAfter)
	case "AROUND":
		r.chatHistoryWindow(ctx, args, windowAround)
	case "BETWEEN":
		r.chatHistoryWindow(ctx, args, windowBetween)
	default:
		ctx.Send(fmt.Sprintf(":%s FAIL CHATHISTORY UNKNOWN_COMMAND %s :Unknown CHATHISTORY subcommand", ctx.prefix(), sub))
	}
}

type windowKind int

const (
	windowLatest windowKind = iota
	windowBefore
	windowAfter
	windowAround
	windowBetween
)

// chatHistoryWindow handles LATEST/BEFORE/AFTER/AROUND/BETWEEN, which
// share the same "<target> <selector...> <limit>" shape with a
// kind-dependent number of timestamp/msgid selectors.
func (r *Registry) chatHistoryWindow(ctx *Context, args []string, kind windowKind) {
	need := map[windowKind]int{windowLatest: 2, windowBefore: 3, windowAfter: 3, windowAround: 3, windowBetween: 4}[kind]
	if len(args) < need {
		ctx.NeedMoreParams("CHATHISTORY")
		return
	}
	target := args[0]
	limit := r.chatHistoryLimit(parseHistoryInt(args[len(args)-1]))

	var recs []store.MessageHistoryEntry
	var err error
	normalized := modes.NormalizeChannel(target)

	switch kind {
	case windowLatest:
		recs, err = r.deps.History.ChatHistoryLatest(normalized, limit)
	case windowBefore:
		recs, err = r.deps.History.ChatHistoryBefore(normalized, parseHistoryTimestamp(args[1]), limit)
	case windowAfter:
		recs, err = r.deps.History.ChatHistoryAfter(normalized, parseHistoryTimestamp(args[1]), limit)
	case windowAround:
		recs, err = r.deps.History.ChatHistoryAround(normalized, parseHistoryTimestamp(args[1]), limit)
	case windowBetween:
		recs, err = r.deps.History.ChatHistoryBetween(normalized, parseHistoryTimestamp(args[1]), parseHistoryTimestamp(args[2]), limit)
	}
	if err != nil {
		ctx.Send(fmt.Sprintf(":%s FAIL CHATHISTORY MESSAGE_ERROR %s :Could not retrieve history", ctx.prefix(), target))
		return
	}

	r.sendHistoryBatch(ctx, target, recs)
}

// chatHistoryTargets implements CHATHISTORY TARGETS <ts-selector> <limit>,
// listing the distinct targets the requesting client has history with
// since the given timestamp.
func (r *Registry) chatHistoryTargets(ctx *Context, args []string) {
	if len(args) < 1 {
		ctx.NeedMoreParams("CHATHISTORY")
		return
	}
	since := int64(0)
	if len(args) >= 1 {
		since = parseHistoryTimestamp(args[0])
	}
	limit := r.chatHistoryLimit(parseHistoryInt(args[len(args)-1]))

	targets, err := r.deps.History.ListHistoryTargets(ctx.Session.nick, since, limit)
	if err != nil {
		ctx.Send(fmt.Sprintf(":%s FAIL CHATHISTORY MESSAGE_ERROR TARGETS :Could not retrieve targets", ctx.prefix()))
		return
	}
	for _, t := range targets {
		ctx.Send(fmt.Sprintf(":%s CHATHISTORY TARGETS %s", ctx.prefix(), t))
	}
}

// sendHistoryBatch wraps recs in a "chathistory" BATCH, per
// draft/chathistory: BATCH +<ref> chathistory <target>, one @batch=<ref>
// tagged line per message, BATCH -<ref>. Sent even when recs is empty, so
// the client can distinguish "no messages" from "request failed."
func (r *Registry) sendHistoryBatch(ctx *Context, target string, recs []store.MessageHistoryEntry) {
	ref := uuid.NewString()[:8]
	ctx.Send(fmt.Sprintf(":%s BATCH +%s chathistory %s", ctx.prefix(), ref, target))
	for _, rec := range recs {
		line, ok := formatHistoryLine(rec.MsgID, rec.Nanotime, rec.Envelope)
		if !ok {
			continue
		}
		ctx.Send(fmt.Sprintf("@batch=%s %s", ref, line))
	}
	ctx.Send(fmt.Sprintf(":%s BATCH -%s", ctx.prefix(), ref))
}

// parseHistoryTimestamp accepts either a bare nanotime integer or a
// "timestamp=<RFC3339>" selector (draft/chathistory allows both msgid= and
// timestamp= selectors; msgid-based selection isn't supported since
// store's indexes are nanotime-ordered, not msgid-ordered).
func parseHistoryTimestamp(raw string) int64 {
	raw = strings.TrimPrefix(raw, "timestamp=")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if t, terr := time.Parse(time.RFC3339Nano, raw); terr == nil {
			return t.UnixNano()
		}
		return 0
	}
	return n
}

func parseHistoryInt(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
