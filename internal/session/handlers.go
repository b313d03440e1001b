package session

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/frostbite2000/msnp-server/internal/store"
	"github.com/frostbite2000/msnp-server/internal/wire"
)

// dispatch handles one parsed command, enforcing the state machine's
// strict transitions. Returns true when the connection should close
// after this command.
func (s *Session) dispatch(cmd wire.Command) bool {
	if cmd.Verb == "OUT" {
		s.handleOUT()
		return true
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if cmd.Verb == "PNG" && state >= StateVersioned {
		s.handlePNG(cmd)
		return false
	}

	// Every other verb leads with a transaction id that must fit a
	// uint32; reject before any state transition if it doesn't.
	if len(cmd.Args) > 0 {
		if _, ok := cmd.TxID(); !ok {
			s.sendError(wire.CodeInvalidParameter, cmd)
			return false
		}
	}

	switch state {
	case StateGreeted:
		if cmd.Verb != "VER" {
			s.sendNotExpected(cmd)
			return false
		}
		s.handleVER(cmd)
	case StateVersioned:
		if cmd.Verb != "CVR" {
			s.sendNotExpected(cmd)
			return false
		}
		s.handleCVR(cmd)
	case StateClientIdentified:
		if cmd.Verb != "USR" {
			s.sendNotExpected(cmd)
			return false
		}
		return s.handleUSR(cmd)
	case StateChallenged:
		if cmd.Verb != "USR" {
			s.sendNotExpected(cmd)
			return false
		}
		return s.handleUSR(cmd)
	case StateAuthenticated:
		switch cmd.Verb {
		case "SYN":
			s.handleSYN(cmd)
		case "CHG":
			s.handleCHG(cmd)
		case "ADD":
			s.handleADD(cmd)
		case "REM":
			s.handleREM(cmd)
		case "MSG":
			s.handleMSG(cmd)
		case "XFR", "CAL", "ANS":
			s.sendError(wire.CodeNotAllowed, cmd)
		default:
			s.sendNotExpected(cmd)
		}
	case StateClosing:
		// ignore anything further
	}
	return false
}

func txOf(cmd wire.Command) string {
	if len(cmd.Args) == 0 {
		return "0"
	}
	return cmd.Args[0]
}

func (s *Session) sendError(code wire.Code, cmd wire.Command) {
	s.Deliver(fmt.Sprintf("%d %s", code, txOf(cmd)))
}

func (s *Session) sendNotExpected(cmd wire.Command) {
	s.sendError(wire.CodeNotExpected, cmd)
}

// --- VER ---

func (s *Session) handleVER(cmd wire.Command) {
	if len(cmd.Args) < 2 {
		s.sendError(wire.CodeInvalidParameter, cmd)
		return
	}
	offered := cmd.Args[1:]
	chosen := negotiateVersion(offered, s.cfg.SupportedVersions)
	if chosen == "" {
		s.Deliver(fmt.Sprintf("VER %s 0", txOf(cmd)))
		s.Terminate("no version overlap")
		return
	}
	s.mu.Lock()
	s.version = chosen
	s.state = StateVersioned
	s.mu.Unlock()
	s.Deliver(fmt.Sprintf("VER %s %s", txOf(cmd), chosen))
}

// negotiateVersion picks the greatest dialect present in both sets, under
// the server's own ordering (supported is already server-preference
// ordered; "greatest" means numerically greatest MSNP<n>).
func negotiateVersion(offered, supported []string) string {
	supportedSet := make(map[string]bool, len(supported))
	for _, v := range supported {
		supportedSet[v] = true
	}
	best := ""
	bestN := -1
	for _, v := range offered {
		if !supportedSet[v] {
			continue
		}
		n := dialectNumber(v)
		if n > bestN {
			bestN = n
			best = v
		}
	}
	return best
}

func dialectNumber(dialect string) int {
	if !strings.HasPrefix(dialect, "MSNP") {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimPrefix(dialect, "MSNP"))
	if err != nil {
		return -1
	}
	return n
}

// --- CVR ---

func (s *Session) handleCVR(cmd wire.Command) {
	fields := s.cfg.Build.CVRFields()
	s.mu.Lock()
	s.state = StateClientIdentified
	s.mu.Unlock()
	s.Deliver(fmt.Sprintf("CVR %s %s %s %s %s %s", txOf(cmd), fields[0], fields[1], fields[2], fields[3], fields[4]))
}

// --- USR ---

func (s *Session) handleUSR(cmd wire.Command) bool {
	if len(cmd.Args) < 4 {
		s.sendError(wire.CodeInvalidParameter, cmd)
		return false
	}
	scheme := cmd.Args[1] // "AUTH" (MD5 accepted as an alias)
	if scheme != "AUTH" && scheme != "MD5" {
		s.sendError(wire.CodeInvalidParameter, cmd)
		return false
	}
	phase := cmd.Args[2]
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch phase {
	case "I":
		if state != StateClientIdentified {
			s.sendNotExpected(cmd)
			return false
		}
		return s.handleUSRPhaseI(cmd)
	case "S":
		if state != StateChallenged {
			s.sendNotExpected(cmd)
			return false
		}
		return s.handleUSRPhaseS(cmd)
	default:
		s.sendError(wire.CodeInvalidParameter, cmd)
		return false
	}
}

func (s *Session) handleUSRPhaseI(cmd wire.Command) bool {
	identity := cmd.Args[3]
	user, err := s.store.GetUser(s.ctx(), identity)
	if err != nil {
		s.log.Error("store error looking up", identity, ":", err)
		s.sendError(wire.CodeInternal, cmd)
		return false
	}
	if user == nil {
		s.sendError(wire.CodeAuthFailed, cmd)
		return false
	}
	nonce, err := newNonce()
	if err != nil {
		s.log.Error("generating nonce:", err)
		s.sendError(wire.CodeInternal, cmd)
		return false
	}
	s.mu.Lock()
	s.nonce = nonce
	s.state = StateChallenged
	s.mu.Unlock()
	s.Deliver(fmt.Sprintf("USR %s AUTH S %s", txOf(cmd), nonce))
	return false
}

func (s *Session) handleUSRPhaseS(cmd wire.Command) bool {
	if len(cmd.Args) < 5 {
		s.sendError(wire.CodeInvalidParameter, cmd)
		return false
	}
	identity := cmd.Args[3]
	hash := cmd.Args[4]

	s.mu.Lock()
	nonce := s.nonce
	s.mu.Unlock()

	user, err := s.store.GetUser(s.ctx(), identity)
	if err != nil {
		s.log.Error("store error looking up", identity, ":", err)
		s.sendError(wire.CodeInternal, cmd)
		return false
	}

	ok := user != nil && verifyDigest(user.Verifier, nonce, hash)
	if !ok {
		s.mu.Lock()
		s.authAttempts++
		attempts := s.authAttempts
		s.mu.Unlock()
		s.sendError(wire.CodeAuthFailed, cmd)
		if attempts >= maxAuthAttempts {
			s.Terminate("auth attempts exceeded")
			return true
		}
		return false
	}

	s.mu.Lock()
	s.identity = identity
	s.displayName = user.DisplayName
	s.presence = "NLN"
	s.state = StateAuthenticated
	s.mu.Unlock()

	s.registry.Admit(identity, s)

	s.Deliver(fmt.Sprintf("USR %s OK %s %s", txOf(cmd), identity, user.DisplayName))
	s.Deliver(fmt.Sprintf("NLN NLN %s %s 0", identity, user.DisplayName))
	return false
}

// verifyDigest recomputes MD5(verifier + nonce) and compares
// case-insensitively against the client-supplied hash. This always runs
// for real; there is no accept-anything fallback.
func verifyDigest(verifier, nonce, clientHash string) bool {
	if verifier == "" || nonce == "" {
		return false
	}
	sum := md5.Sum([]byte(verifier + nonce))
	expected := hex.EncodeToString(sum[:])
	return strings.EqualFold(expected, clientHash)
}

// --- SYN ---

func (s *Session) handleSYN(cmd wire.Command) {
	identity := s.Identity()
	contacts, err := s.store.ListContacts(s.ctx(), identity)
	if err != nil {
		s.log.Error("store error listing contacts for", identity, ":", err)
		s.sendError(wire.CodeInternal, cmd)
		return
	}

	type peerEntry struct {
		nickname string
		bitmask  int
	}
	byPeer := make(map[string]*peerEntry)
	total := 0
	for _, c := range contacts {
		if c.List == store.ListReverse {
			continue
		}
		total++
		e, ok := byPeer[c.Peer]
		if !ok {
			e = &peerEntry{nickname: c.Nickname}
			byPeer[c.Peer] = e
		}
		e.bitmask |= int(c.List)
		if c.Nickname != "" {
			e.nickname = c.Nickname
		}
	}

	peers := make([]string, 0, len(byPeer))
	for p := range byPeer {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool {
		if peers[i] != peers[j] {
			return peers[i] < peers[j]
		}
		return byPeer[peers[i]].bitmask < byPeer[peers[j]].bitmask
	})

	s.Deliver(fmt.Sprintf("SYN %s %d 0", txOf(cmd), total))
	for _, p := range peers {
		e := byPeer[p]
		s.Deliver(fmt.Sprintf("LST %s %s %d 0", p, e.nickname, e.bitmask))
	}
}

// --- CHG ---

func (s *Session) handleCHG(cmd wire.Command) {
	if len(cmd.Args) < 2 {
		s.sendError(wire.CodeInvalidParameter, cmd)
		return
	}
	newState := cmd.Args[1]
	if !validPresence(newState) {
		s.sendError(wire.CodeInvalidParameter, cmd)
		return
	}
	clientID := 0
	if len(cmd.Args) > 2 {
		if n, err := strconv.Atoi(cmd.Args[2]); err == nil {
			clientID = n
		}
	}
	msnObj := ""
	if len(cmd.Args) > 3 {
		msnObj = cmd.Args[3]
	}

	s.mu.Lock()
	previous := s.presence
	s.presence = newState
	s.clientID = clientID
	s.msnObj = msnObj
	identity := s.identity
	displayName := s.displayName
	s.mu.Unlock()

	s.registry.RefreshPresence(identity)
	s.Deliver(fmt.Sprintf("CHG %s %s %d", txOf(cmd), newState, clientID))

	switch {
	case newState == "HDN" && previous != "HDN":
		s.router.FanoutPresence(s.ctx(), identity, "FLN", displayName, clientID, msnObj)
	case previous == "HDN" && newState != "HDN":
		s.router.FanoutPresence(s.ctx(), identity, "NLN", displayName, clientID, msnObj)
	case newState == "HDN" && previous == "HDN":
		// elided: no observable transition
	default:
		s.router.FanoutPresence(s.ctx(), identity, newState, displayName, clientID, msnObj)
	}
}

func validPresence(state string) bool {
	switch state {
	case "NLN", "BSY", "IDL", "BRB", "AWY", "PHN", "LUN", "HDN":
		return true
	default:
		return false
	}
}

// --- ADD / REM ---

func (s *Session) nextContactRev() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contactRev++
	return s.contactRev
}

func (s *Session) handleADD(cmd wire.Command) {
	if len(cmd.Args) < 3 {
		s.sendError(wire.CodeInvalidParameter, cmd)
		return
	}
	list, ok := store.ParseListTag(cmd.Args[1])
	if !ok {
		s.sendError(wire.CodeInvalidParameter, cmd)
		return
	}
	peer := cmd.Args[2]
	nickname := ""
	if len(cmd.Args) > 3 {
		nickname = cmd.Args[3]
	}
	identity := s.Identity()

	err := s.store.AddContact(s.ctx(), identity, peer, nickname, list)
	if err != nil {
		if _, dup := err.(*store.ErrDuplicate); !dup {
			s.log.Error("store error adding contact:", err)
			s.sendError(wire.CodeInternal, cmd)
			return
		}
	}
	rev := s.nextContactRev()
	s.Deliver(fmt.Sprintf("ADD %s %s %d %s %s", txOf(cmd), list.String(), rev, peer, nickname))

	if list == store.ListForward {
		s.store.AddContact(s.ctx(), peer, identity, "", store.ListReverse)
		s.router.NotifyReverseList(peer, fmt.Sprintf("ADD 0 RL %d %s %s", rev, identity, nickname))
	}
}

func (s *Session) handleREM(cmd wire.Command) {
	if len(cmd.Args) < 3 {
		s.sendError(wire.CodeInvalidParameter, cmd)
		return
	}
	list, ok := store.ParseListTag(cmd.Args[1])
	if !ok {
		s.sendError(wire.CodeInvalidParameter, cmd)
		return
	}
	peer := cmd.Args[2]
	identity := s.Identity()

	if err := s.store.RemoveContact(s.ctx(), identity, peer, list); err != nil {
		s.log.Error("store error removing contact:", err)
		s.sendError(wire.CodeInternal, cmd)
		return
	}
	rev := s.nextContactRev()
	s.Deliver(fmt.Sprintf("REM %s %s %d %s", txOf(cmd), list.String(), rev, peer))

	if list == store.ListForward {
		s.store.RemoveContact(s.ctx(), peer, identity, store.ListReverse)
		s.router.NotifyReverseList(peer, fmt.Sprintf("REM 0 RL %d %s", rev, identity))
	}
}

// --- MSG ---

func (s *Session) handleMSG(cmd wire.Command) {
	if len(cmd.Args) < 2 {
		s.sendError(wire.CodeInvalidParameter, cmd)
		return
	}
	ack := cmd.Args[1]
	if len(cmd.Payload) > s.cfg.MaxMessageLength {
		s.sendError(wire.CodeInvalidParameter, cmd)
		return
	}

	switch ack {
	case "A", "U":
		s.Deliver(fmt.Sprintf("ACK %s", txOf(cmd)))
	case "N":
		// no-ack: no reply
	default:
		s.sendError(wire.CodeInvalidParameter, cmd)
		return
	}

	identity := s.Identity()
	if err := s.store.AppendMessage(s.ctx(), identity, "", cmd.Payload, time.Now()); err != nil {
		s.log.Warning("appendMessage failed for", identity, ":", err)
	}
}

// --- OUT / PNG ---

func (s *Session) handleOUT() {
	s.mu.Lock()
	s.state = StateClosing
	s.mu.Unlock()
	s.Deliver("OUT")
}

func (s *Session) handlePNG(cmd wire.Command) {
	s.Deliver(fmt.Sprintf("QNG %d", int(s.cfg.PingInterval.Seconds())))
}
