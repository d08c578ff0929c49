package kernel

import "sort"

// MailingList is the subscription index: topic → set of agent uuids, with a
// reverse index for O(subscribed) teardown. Fan-out order is deterministic:
// Subscribers always returns uuids sorted ascending, regardless of
// subscription order.
type MailingList struct {
	topics  map[string]map[string]struct{}
	byAgent map[string]map[string]struct{}
}

// NewMailingList creates an empty subscription index.
func NewMailingList() *MailingList {
	return &MailingList{
		topics:  make(map[string]map[string]struct{}),
		byAgent: make(map[string]map[string]struct{}),
	}
}

// Subscribe adds the agent to the topic's subscriber set. Idempotent.
func (m *MailingList) Subscribe(agentID, topic string) {
	if m.topics[topic] == nil {
		m.topics[topic] = make(map[string]struct{})
	}
	m.topics[topic][agentID] = struct{}{}
	if m.byAgent[agentID] == nil {
		m.byAgent[agentID] = make(map[string]struct{})
	}
	m.byAgent[agentID][topic] = struct{}{}
}

// Unsubscribe removes the agent from the topic's subscriber set. Idempotent;
// empty subscriber sets are dropped from the index.
func (m *MailingList) Unsubscribe(agentID, topic string) {
	if subs, ok := m.topics[topic]; ok {
		delete(subs, agentID)
		if len(subs) == 0 {
			delete(m.topics, topic)
		}
	}
	if topics, ok := m.byAgent[agentID]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(m.byAgent, agentID)
		}
	}
}

// UnsubscribeAll removes every subscription held by the agent.
func (m *MailingList) UnsubscribeAll(agentID string) {
	for topic := range m.byAgent[agentID] {
		if subs, ok := m.topics[topic]; ok {
			delete(subs, agentID)
			if len(subs) == 0 {
				delete(m.topics, topic)
			}
		}
	}
	delete(m.byAgent, agentID)
}

// HasSubscribers reports whether any agent subscribes to the topic.
func (m *MailingList) HasSubscribers(topic string) bool {
	return len(m.topics[topic]) > 0
}

// Subscribers returns the uuids subscribed to the topic, sorted ascending.
func (m *MailingList) Subscribers(topic string) []string {
	subs := m.topics[topic]
	if len(subs) == 0 {
		return nil
	}
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Topics returns the topics the agent subscribes to, sorted ascending.
func (m *MailingList) Topics(agentID string) []string {
	topics := m.byAgent[agentID]
	if len(topics) == 0 {
		return nil
	}
	out := make([]string, 0, len(topics))
	for t := range topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
