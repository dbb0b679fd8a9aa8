// Package subscription manages the event-bus filter policies that route
// granule notifications to the ingest and deletion queues. Each registered
// collection is added to both policies so only its notifications are
// delivered.
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSAPI is the topic surface the manager uses.
type SNSAPI interface {
	GetSubscriptionAttributes(ctx context.Context, params *sns.GetSubscriptionAttributesInput, optFns ...func(*sns.Options)) (*sns.GetSubscriptionAttributesOutput, error)
	SetSubscriptionAttributes(ctx context.Context, params *sns.SetSubscriptionAttributesInput, optFns ...func(*sns.Options)) (*sns.SetSubscriptionAttributesOutput, error)
}

// Manager updates the ingest and deletion subscription filter policies.
type Manager struct {
	client      SNSAPI
	ingestARN   string
	deletionARN string
	prefixes    []string
	log         *slog.Logger
}

// NewManager builds a Manager. prefixes restricts ingest notifications to
// workflow executions whose name starts with one of them; deletions are
// never prefix-filtered.
func NewManager(client SNSAPI, ingestARN, deletionARN string, prefixes []string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		client:      client,
		ingestARN:   ingestARN,
		deletionARN: deletionARN,
		prefixes:    prefixes,
		log:         log.With("component", "subscription"),
	}
}

// ParseExecutionPrefixes decodes the execution prefix configuration value.
// It accepts a JSON array of strings, a JSON string, or a plain unquoted
// string.
func ParseExecutionPrefixes(raw string) []string {
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		return []string{single}
	}
	return []string{raw}
}

type recordFilter struct {
	CollectionID []string         `json:"collectionId"`
	Status       []string         `json:"status"`
	Execution    []map[string]any `json:"execution,omitempty"`
}

type filterPolicy struct {
	Record recordFilter `json:"record"`
	Event  []any        `json:"event"`
}

// AddCollection adds a collection id to both queue filter policies,
// preserving the ids already subscribed.
func (m *Manager) AddCollection(ctx context.Context, collectionID string) error {
	if err := m.update(ctx, m.ingestARN, collectionID, false); err != nil {
		return fmt.Errorf("update ingest filter policy: %w", err)
	}
	if err := m.update(ctx, m.deletionARN, collectionID, true); err != nil {
		return fmt.Errorf("update deletion filter policy: %w", err)
	}
	return nil
}

func (m *Manager) update(ctx context.Context, subscriptionARN, collectionID string, deletion bool) error {
	existing, err := m.currentCollections(ctx, subscriptionARN)
	if err != nil {
		return err
	}
	policy := m.buildPolicy(mergeCollections(existing, collectionID), deletion)
	encoded, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("encode filter policy: %w", err)
	}

	_, err = m.client.SetSubscriptionAttributes(ctx, &sns.SetSubscriptionAttributesInput{
		SubscriptionArn: aws.String(subscriptionARN),
		AttributeName:   aws.String("FilterPolicy"),
		AttributeValue:  aws.String(string(encoded)),
	})
	if err != nil {
		return err
	}
	// The record fields live in the message body, not message attributes.
	_, err = m.client.SetSubscriptionAttributes(ctx, &sns.SetSubscriptionAttributesInput{
		SubscriptionArn: aws.String(subscriptionARN),
		AttributeName:   aws.String("FilterPolicyScope"),
		AttributeValue:  aws.String("MessageBody"),
	})
	if err != nil {
		return err
	}
	m.log.Info("filter policy updated",
		"subscription_arn", subscriptionARN, "collections", len(mergeCollections(existing, collectionID)))
	return nil
}

// currentCollections reads the collection ids already present in a
// subscription's filter policy. A subscription with no policy yet has none.
func (m *Manager) currentCollections(ctx context.Context, subscriptionARN string) ([]string, error) {
	out, err := m.client.GetSubscriptionAttributes(ctx, &sns.GetSubscriptionAttributesInput{
		SubscriptionArn: aws.String(subscriptionARN),
	})
	if err != nil {
		return nil, err
	}
	raw, ok := out.Attributes["FilterPolicy"]
	if !ok || raw == "" {
		return nil, nil
	}
	var policy filterPolicy
	if err := json.Unmarshal([]byte(raw), &policy); err != nil {
		return nil, fmt.Errorf("decode existing filter policy: %w", err)
	}
	return policy.Record.CollectionID, nil
}

func (m *Manager) buildPolicy(collectionIDs []string, deletion bool) filterPolicy {
	policy := filterPolicy{
		Record: recordFilter{
			CollectionID: collectionIDs,
			Status:       []string{"completed"},
		},
	}
	if deletion {
		policy.Event = []any{"Delete"}
	} else {
		policy.Event = []any{map[string][]string{"anything-but": {"Delete"}}}
		for _, p := range m.prefixes {
			policy.Record.Execution = append(policy.Record.Execution, map[string]any{"prefix": p})
		}
	}
	return policy
}

func mergeCollections(existing []string, collectionID string) []string {
	seen := make(map[string]bool, len(existing)+1)
	merged := make([]string, 0, len(existing)+1)
	for _, id := range append(existing, collectionID) {
		if id != "" && !seen[id] {
			seen[id] = true
			merged = append(merged, id)
		}
	}
	sort.Strings(merged)
	return merged
}
