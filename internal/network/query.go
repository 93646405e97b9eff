package network

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	queryMagic         = 0xFEFD
	queryTypeStat      = 0x00
	queryTypeHandshake = 0x09

	queryChallengeTTL  = 30 * time.Second
	queryChallengeSize = 4096
	queryBufferSize    = 1460
)

var (
	fullStatHeader   = []byte("splitnum\x00\x80\x00")
	fullStatPlayers  = []byte("\x01player_\x00\x00")
	errShortQuery    = errors.New("short query packet")
	errBadQueryMagic = errors.New("bad query magic")
)

// QueryInfo is what the query responder reports about the server.
type QueryInfo struct {
	MOTD       string
	GameType   string
	Map        string
	Version    string
	Plugins    string
	Players    []string
	MaxPlayers int
	HostIP     string
	HostPort   int
}

// QueryServer answers the UDP query protocol: a handshake hands out a
// challenge token, and a stat request carrying it gets the basic or full
// server description.
type QueryServer struct {
	addr       string
	info       func() QueryInfo
	challenges *expirable.LRU[string, int32]
	logger     zerolog.Logger

	ready chan struct{}
	local net.Addr
}

// NewQueryServer creates a responder for addr.
func NewQueryServer(addr string, info func() QueryInfo) *QueryServer {
	return &QueryServer{
		addr:       addr,
		info:       info,
		challenges: expirable.NewLRU[string, int32](queryChallengeSize, nil, queryChallengeTTL),
		logger:     log.With().Str("component", "query").Logger(),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the socket is bound.
func (q *QueryServer) Ready() <-chan struct{} { return q.ready }

// Addr returns the bound address. It is valid after Ready.
func (q *QueryServer) Addr() net.Addr { return q.local }

// Start serves until ctx is cancelled.
func (q *QueryServer) Start(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	pc, err := lc.ListenPacket(ctx, "udp", q.addr)
	if err != nil {
		return fmt.Errorf("failed to start query listener on %s: %w", q.addr, err)
	}
	q.local = pc.LocalAddr()
	close(q.ready)
	q.logger.Info().Str("addr", q.local.String()).Msg("query listener started")

	stop := context.AfterFunc(ctx, func() { pc.Close() })
	defer stop()

	buf := make([]byte, queryBufferSize)
	for {
		n, remote, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				q.logger.Info().Msg("query listener stopping")
				return nil
			}
			q.logger.Error().Err(err).Msg("query read error")
			continue
		}

		resp, err := q.handle(remote.String(), buf[:n])
		if err != nil {
			q.logger.Debug().Err(err).Str("remote", remote.String()).Msg("dropped query packet")
			continue
		}
		if _, err := pc.WriteTo(resp, remote); err != nil {
			q.logger.Warn().Err(err).Str("remote", remote.String()).Msg("failed to send query response")
		}
	}
}

// handle builds the answer to one datagram.
func (q *QueryServer) handle(remote string, pkt []byte) ([]byte, error) {
	if len(pkt) < 7 {
		return nil, errShortQuery
	}
	if binary.BigEndian.Uint16(pkt) != queryMagic {
		return nil, errBadQueryMagic
	}
	kind := pkt[2]
	session := int32(binary.BigEndian.Uint32(pkt[3:7])) & 0x0F0F0F0F
	body := pkt[7:]

	var out bytes.Buffer
	out.WriteByte(kind)
	binary.Write(&out, binary.BigEndian, session)

	switch kind {
	case queryTypeHandshake:
		token := rand.Int31()
		q.challenges.Add(remote, token)
		writeCString(&out, strconv.FormatInt(int64(token), 10))
		return out.Bytes(), nil

	case queryTypeStat:
		if len(body) < 4 {
			return nil, errShortQuery
		}
		want, ok := q.challenges.Get(remote)
		if !ok || int32(binary.BigEndian.Uint32(body)) != want {
			return nil, fmt.Errorf("invalid challenge token from %s", remote)
		}
		info := q.info()
		if len(body) >= 8 {
			writeFullStat(&out, info)
		} else {
			writeBasicStat(&out, info)
		}
		return out.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown query type 0x%02x", kind)
}

func writeBasicStat(out *bytes.Buffer, info QueryInfo) {
	writeCString(out, info.MOTD)
	writeCString(out, info.GameType)
	writeCString(out, info.Map)
	writeCString(out, strconv.Itoa(len(info.Players)))
	writeCString(out, strconv.Itoa(info.MaxPlayers))
	binary.Write(out, binary.LittleEndian, uint16(info.HostPort))
	writeCString(out, info.HostIP)
}

func writeFullStat(out *bytes.Buffer, info QueryInfo) {
	out.Write(fullStatHeader)
	pairs := [][2]string{
		{"hostname", info.MOTD},
		{"gametype", info.GameType},
		{"game_id", "MINECRAFT"},
		{"version", info.Version},
		{"plugins", info.Plugins},
		{"map", info.Map},
		{"numplayers", strconv.Itoa(len(info.Players))},
		{"maxplayers", strconv.Itoa(info.MaxPlayers)},
		{"hostport", strconv.Itoa(info.HostPort)},
		{"hostip", info.HostIP},
	}
	for _, kv := range pairs {
		writeCString(out, kv[0])
		writeCString(out, kv[1])
	}
	out.WriteByte(0)
	out.Write(fullStatPlayers)
	for _, name := range info.Players {
		writeCString(out, name)
	}
	out.WriteByte(0)
}

func writeCString(out *bytes.Buffer, s string) {
	out.WriteString(s)
	out.WriteByte(0)
}
