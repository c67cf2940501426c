package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when Config.TopicPrefix is empty.
const DefaultTopicPrefix = "smartfan"

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics builds the bridge topics under one prefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.TrimSuffix(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// State returns the retained state topic.
func (t Topics) State() string {
	return t.prefix() + "/state"
}

// Available returns the retained device availability topic.
func (t Topics) Available() string {
	return t.prefix() + "/available"
}

// Bridge returns the bridge status topic carrying the LWT.
func (t Topics) Bridge() string {
	return t.prefix() + "/bridge"
}

// Set returns the command topic for key.
func (t Topics) Set(key string) string {
	return fmt.Sprintf("%s/set/%s", t.prefix(), key)
}

// AllSets returns the wildcard matching every command topic.
func (t Topics) AllSets() string {
	return t.prefix() + "/set/+"
}

// CommandKey extracts the key from a command topic. It reports false for
// topics outside this prefix.
func (t Topics) CommandKey(topic string) (string, bool) {
	key, ok := strings.CutPrefix(topic, t.prefix()+"/set/")
	if !ok || key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}
