package store

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"kblocks/pkg/objuri"
	kstrings "kblocks/pkg/strings"
)

// EventSource is the component name written into recorded events.
const EventSource = "kblocks"

// RecordEvent creates a core/v1 Event involving the object at id, so the
// transition shows up in `kubectl describe`.
func (k *KubernetesStore) RecordEvent(ctx context.Context, id objuri.Identity, eventType, reason, message string) error {
	obj, err := k.Get(ctx, id)
	if err != nil {
		return err
	}

	namespace := obj.GetNamespace()
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	now := metav1.NewTime(time.Now())
	event := &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: obj.GetName() + "-",
			Namespace:    namespace,
		},
		InvolvedObject: corev1.ObjectReference{
			APIVersion:      obj.GetAPIVersion(),
			Kind:            obj.GetKind(),
			Name:            obj.GetName(),
			Namespace:       obj.GetNamespace(),
			UID:             obj.GetUID(),
			ResourceVersion: obj.GetResourceVersion(),
		},
		Reason:         reason,
		Message:        kstrings.TruncateMessage(message, kstrings.MaxConditionMessageLen),
		Type:           eventType,
		Source:         corev1.EventSource{Component: EventSource},
		FirstTimestamp: now,
		LastTimestamp:  now,
		Count:          1,
	}

	if err := k.client.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create event for %s: %w", id, err)
	}
	return nil
}

// RecordedEvent is an event kept by MemoryStore.RecordEvent.
type RecordedEvent struct {
	ID      objuri.Identity
	Type    string
	Reason  string
	Message string
}

// RecordEvent keeps the event in memory. Like the cluster, it refuses events
// for objects that do not exist.
func (m *MemoryStore) RecordEvent(_ context.Context, id objuri.Identity, eventType, reason, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[keyFor(id)]; !ok {
		return notFound(id)
	}
	m.events = append(m.events, RecordedEvent{ID: id, Type: eventType, Reason: reason, Message: message})
	return nil
}

// Events returns the recorded events in order.
func (m *MemoryStore) Events() []RecordedEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RecordedEvent(nil), m.events...)
}
