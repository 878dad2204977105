package handler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/alfira/internal/generator"
)

// FlowTTL is how long an unfinished flow waits for its next interaction.
// Discord interaction tokens expire after 15 minutes anyway.
const FlowTTL = 15 * time.Minute

var errFlowExpired = &UserError{Message: "This menu has expired, run the command again."}

func InstanceIDFromInteraction(i *discordgo.InteractionCreate) string {
	var customID string

	switch i.Type {
	case discordgo.InteractionMessageComponent:
		customID = i.MessageComponentData().CustomID
	case discordgo.InteractionModalSubmit:
		customID = i.ModalSubmitData().CustomID
	default:
		return ""
	}

	return InstanceIDFromCustomID(customID)
}

func InstanceIDFromCustomID(customID string) string {
	parts := strings.SplitN(customID, ":", 2)
	if len(parts) != 2 {
		return ""
	}

	return parts[1]
}

// FlowContext is carried between the nodes of one running flow.
type FlowContext struct {
	InstanceID string
	State      map[string]any
}

type Node struct {
	ID      string
	Matcher func(*discordgo.InteractionCreate) bool
	Handler func(DiscordSession, *discordgo.InteractionCreate, *FlowContext) error
	Next    []*Node
}

type Flow struct {
	ID   string
	Root *Node
}

type session struct {
	flow      *Flow
	node      *Node
	ctx       *FlowContext
	touchedAt time.Time
}

type FlowManager struct {
	flowsMu *sync.RWMutex
	flows   map[string]*Flow

	sessionsMu *sync.RWMutex
	sessions   map[string]*session

	idGenerator generator.Generator[string]
	ttl         time.Duration
	now         func() time.Time
}

func NewFlowManager(idGenerator generator.Generator[string]) *FlowManager {
	if idGenerator == nil {
		idGenerator = &generator.UUIDV4Generator{}
	}
	return &FlowManager{
		flowsMu:     &sync.RWMutex{},
		flows:       make(map[string]*Flow),
		sessionsMu:  &sync.RWMutex{},
		sessions:    make(map[string]*session),
		idGenerator: idGenerator,
		ttl:         FlowTTL,
		now:         time.Now,
	}
}

func (fm *FlowManager) RegisterFlow(flow *Flow) {
	fm.flowsMu.Lock()
	defer fm.flowsMu.Unlock()

	if _, exists := fm.flows[flow.ID]; exists {
		panic("flow already registered")
	}
	fm.flows[flow.ID] = flow
}

// Router starts a flow for a command, or advances the flow a component
// interaction belongs to.
func (fm *FlowManager) Router(s DiscordSession, i *discordgo.InteractionCreate) error {
	fm.prune()

	instanceID := InstanceIDFromInteraction(i)
	if instanceID != "" {
		fm.sessionsMu.RLock()
		session, inFlow := fm.sessions[instanceID]
		fm.sessionsMu.RUnlock()
		if inFlow {
			return fm.advance(s, i, session)
		}
		return errFlowExpired
	}

	return fm.initializeFlow(s, i)
}

// Pending reports how many flows are waiting for their next interaction.
func (fm *FlowManager) Pending() int {
	fm.sessionsMu.RLock()
	defer fm.sessionsMu.RUnlock()
	return len(fm.sessions)
}

func (fm *FlowManager) prune() {
	cutoff := fm.now().Add(-fm.ttl)

	fm.sessionsMu.Lock()
	defer fm.sessionsMu.Unlock()
	for id, sess := range fm.sessions {
		if sess.touchedAt.Before(cutoff) {
			delete(fm.sessions, id)
		}
	}
}

func (fm *FlowManager) finish(instanceID string) {
	fm.sessionsMu.Lock()
	delete(fm.sessions, instanceID)
	fm.sessionsMu.Unlock()
}

func (fm *FlowManager) advance(
	s DiscordSession,
	i *discordgo.InteractionCreate,
	sess *session,
) error {
	if len(sess.node.Next) == 0 {
		fm.finish(sess.ctx.InstanceID)
		return nil
	}

	var nextNode *Node
	for _, n := range sess.node.Next {
		if n.Matcher(i) {
			nextNode = n
			break
		}
	}
	if nextNode == nil {
		return nil
	}

	fm.sessionsMu.Lock()
	sess.node = nextNode
	sess.touchedAt = fm.now()
	fm.sessionsMu.Unlock()

	if len(nextNode.Next) == 0 {
		fm.finish(sess.ctx.InstanceID)
	}
	return runHandler(s, i, sess)
}

func (fm *FlowManager) initializeFlow(s DiscordSession, i *discordgo.InteractionCreate) error {
	fm.flowsMu.RLock()
	var f *Flow
	for _, flow := range fm.flows {
		if flow.Root.Matcher(i) {
			f = flow
			break
		}
	}
	fm.flowsMu.RUnlock()
	if f == nil {
		return nil
	}

	instanceID, err := fm.idGenerator.Next()
	if err != nil {
		return fmt.Errorf("failed to generate instance ID: %w", err)
	}

	ctx := &FlowContext{
		InstanceID: instanceID,
		State:      make(map[string]any),
	}
	newSess := &session{flow: f, node: f.Root, ctx: ctx, touchedAt: fm.now()}

	// Single node flows never see a second interaction.
	if len(f.Root.Next) > 0 {
		fm.sessionsMu.Lock()
		fm.sessions[instanceID] = newSess
		fm.sessionsMu.Unlock()
	}

	return runHandler(s, i, newSess)
}

func runHandler(s DiscordSession, i *discordgo.InteractionCreate, sess *session) error {
	return sess.node.Handler(s, i, sess.ctx)
}
