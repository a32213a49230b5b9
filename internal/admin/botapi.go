package admin

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/presbrey/ircd/internal/chanactor"
	"github.com/presbrey/ircd/internal/clock"
	"github.com/presbrey/ircd/internal/crdt"
	"github.com/presbrey/ircd/internal/handler"
	"github.com/presbrey/ircd/internal/matrix"
	"github.com/presbrey/ircd/internal/modes"
)

// botPrivilege is the privilege the bot identity acts with on every
// channel-mode change it requests; full owner/admin/op rank means
// Actor.ApplyModeChange never rejects it for lacking rank, since the
// bot API's own bearer-token check is the access-control boundary, not
// channel privilege.
var botPrivilege = crdt.Privilege{Owner: true, Admin: true, Op: true, Halfop: true, Voice: true}

const botCallTimeout = 5 * time.Second

// BotAPI is the echo-routed bearer-token JSON API for operator tooling,
// grounded directly on irc/server/botapi.go: the same route set
// (/api/send, /api/join, /api/part, /api/nick, /api/mode, /api/topic,
// /api/who, /api/list) and the same Authorization: Bearer <token>
// check via crypto/subtle, reimplemented over a real in-Matrix
// pseudo-client (see registerBot) instead of the teacher's ad hoc
// *Client value never added to any registry.
type BotAPI struct {
	echo   *echo.Echo
	tokens map[string]bool

	mtx      *matrix.Matrix
	clk      *clock.Clock
	channels *handler.ChannelManager

	uid  string
	nick string
}

// NewBotAPI constructs the bot API, registering a Service pseudo-user
// (uid) in the Matrix as the identity every bot-API action is attributed
// to, mirroring internal/services' pseudoClient registration pattern.
func NewBotAPI(mtx *matrix.Matrix, clk *clock.Clock, channels *handler.ChannelManager, uid, nick string, bearerTokens []string) *BotAPI {
	tokens := make(map[string]bool, len(bearerTokens))
	for _, t := range bearerTokens {
		tokens[t] = true
	}
	b := &BotAPI{
		echo:     echo.New(),
		tokens:   tokens,
		mtx:      mtx,
		clk:      clk,
		channels: channels,
		uid:      uid,
		nick:     nick,
	}
	b.echo.HideBanner = true
	b.echo.HidePort = true

	u := matrix.NewUser(uid, nick, "botapi", "Bot API", "services.botapi.", "0.0.0.0", b, clk.Tick())
	u.SetModes(matrix.UserModes{Service: true, Invisible: true}, clk.Tick())
	mtx.AddUser(u, nil)

	grp := b.echo.Group("/api", b.authMiddleware)
	grp.POST("/send", b.handleSend)
	grp.POST("/join", b.handleJoin)
	grp.POST("/part", b.handlePart)
	grp.POST("/nick", b.handleNick)
	grp.POST("/mode", b.handleMode)
	grp.POST("/topic", b.handleTopic)
	grp.GET("/who", b.handleWho)
	grp.GET("/list", b.handleList)

	return b
}

// TrySend/Closed satisfy matrix.Sender so the bot identity can be
// addressed like any other user (e.g. an operator DMing it); replies
// are dropped rather than parsed as commands, since the bot API's
// control surface is HTTP, not PRIVMSG.
func (b *BotAPI) TrySend(line string) bool { return true }
func (b *BotAPI) Closed() bool             { return false }

func (b *BotAPI) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if len(b.tokens) == 0 {
			return next(c)
		}
		auth := c.Request().Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		for known := range b.tokens {
			if subtle.ConstantTimeCompare([]byte(token), []byte(known)) == 1 {
				return next(c)
			}
		}
		return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}
}

// ListenAndServe blocks serving the bot API on addr.
func (b *BotAPI) ListenAndServe(addr string) error {
	err := b.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the bot API, used by package lifecycle.
func (b *BotAPI) Shutdown() { b.echo.Close() }

type sendRequest struct {
	Channel string `json:"channel,omitempty"`
	Target  string `json:"target,omitempty"`
	Message string `json:"message" validate:"required"`
	Notice  bool   `json:"notice,omitempty"`
}

func (b *BotAPI) handleSend(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad request")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	cmd := "PRIVMSG"
	if req.Notice {
		cmd = "NOTICE"
	}

	switch {
	case req.Channel != "":
		actor, ok := b.channels.Get(modes.NormalizeChannel(req.Channel))
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "channel not found")
		}
		line := fmt.Sprintf(":%s!botapi@services %s %s :%s", b.nick, cmd, req.Channel, req.Message)
		ctx, cancel := context.WithTimeout(context.Background(), botCallTimeout)
		defer cancel()
		if err := actor.Broadcast(ctx, line, b.uid, nil); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	case req.Target != "":
		target, ok := b.mtx.GetUserByNick(req.Target)
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "target not found")
		}
		line := fmt.Sprintf(":%s!botapi@services %s %s :%s", b.nick, cmd, req.Target, req.Message)
		target.Send(line)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "channel or target is required")
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type channelRequest struct {
	Channel string `json:"channel" validate:"required"`
	Reason  string `json:"reason,omitempty"`
}

func (b *BotAPI) handleJoin(c echo.Context) error {
	var req channelRequest
	if err := c.Bind(&req); err != nil || req.Channel == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel is required")
	}
	name := modes.NormalizeChannel(req.Channel)
	actor := b.channels.GetOrCreate(name)
	ctx, cancel := context.WithTimeout(context.Background(), botCallTimeout)
	defer cancel()
	err := actor.Join(ctx, chanactor.JoinParams{
		UID:      b.uid,
		Hostmask: fmt.Sprintf("%s!botapi@services", b.nick),
		JoinTime: time.Now().Unix(),
		TS:       b.clk.Tick(),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (b *BotAPI) handlePart(c echo.Context) error {
	var req channelRequest
	if err := c.Bind(&req); err != nil || req.Channel == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel is required")
	}
	actor, ok := b.channels.Get(modes.NormalizeChannel(req.Channel))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}
	ctx, cancel := context.WithTimeout(context.Background(), botCallTimeout)
	defer cancel()
	if err := actor.Part(ctx, b.uid, req.Reason, nil, b.clk.Tick()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type nickRequest struct {
	Nick string `json:"nick" validate:"required"`
}

func (b *BotAPI) handleNick(c echo.Context) error {
	var req nickRequest
	if err := c.Bind(&req); err != nil || req.Nick == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "nick is required")
	}
	if !b.mtx.RenameUser(b.uid, req.Nick, b.clk.Tick(), nil) {
		return echo.NewHTTPError(http.StatusConflict, "nick in use")
	}
	b.nick = req.Nick
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type modeRequest struct {
	Channel string   `json:"channel" validate:"required"`
	Modes   string   `json:"mode" validate:"required"`
	Args    []string `json:"args,omitempty"`
}

func (b *BotAPI) handleMode(c echo.Context) error {
	var req modeRequest
	if err := c.Bind(&req); err != nil || req.Channel == "" || req.Modes == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel and mode are required")
	}
	actor, ok := b.channels.Get(modes.NormalizeChannel(req.Channel))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}
	ctx, cancel := context.WithTimeout(context.Background(), botCallTimeout)
	defer cancel()
	_, _, err := actor.ApplyModeChange(ctx, b.uid, botPrivilege, req.Modes, req.Args, nil, b.clk.Tick())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

type topicRequest struct {
	Channel string `json:"channel" validate:"required"`
	Topic   string `json:"topic"`
}

func (b *BotAPI) handleTopic(c echo.Context) error {
	var req topicRequest
	if err := c.Bind(&req); err != nil || req.Channel == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel is required")
	}
	actor, ok := b.channels.Get(modes.NormalizeChannel(req.Channel))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}
	ctx, cancel := context.WithTimeout(context.Background(), botCallTimeout)
	defer cancel()
	if err := actor.SetTopic(ctx, req.Topic, b.nick, nil, b.clk.Tick()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (b *BotAPI) handleWho(c echo.Context) error {
	channel := c.QueryParam("channel")
	if channel == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel is required")
	}
	actor, ok := b.channels.Get(modes.NormalizeChannel(channel))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "channel not found")
	}
	ctx, cancel := context.WithTimeout(context.Background(), botCallTimeout)
	defer cancel()
	members, err := actor.GetMembers(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]ClientSummary, 0, len(members))
	for _, mi := range members {
		u, ok := b.mtx.GetUser(mi.UID)
		if !ok {
			continue
		}
		out = append(out, ClientSummary{UID: u.UID(), Nick: u.Nick(), Username: u.Username(), Host: u.VisibleHost(), Account: u.Account(), SID: u.SID()})
	}
	return c.JSON(http.StatusOK, out)
}

func (b *BotAPI) handleList(c echo.Context) error {
	var out []ChannelSummary
	for _, h := range b.mtx.Channels() {
		out = append(out, ChannelSummary{Name: h.Name(), Members: h.MemberCount()})
	}
	return c.JSON(http.StatusOK, out)
}
