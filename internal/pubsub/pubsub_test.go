// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	b := NewBroker[string]()
	ch1, cancel1 := b.Subscribe(4)
	ch2, cancel2 := b.Subscribe(4)
	defer cancel1()
	defer cancel2()

	b.Publish(NewUpdatedEvent("prompt-1"))

	ev1 := <-ch1
	ev2 := <-ch2
	assert.Equal(t, UpdatedEvent, ev1.Type)
	assert.Equal(t, "prompt-1", ev1.Payload)
	assert.Equal(t, "prompt-1", ev2.Payload)
}

func TestBrokerDropsWhenBufferFull(t *testing.T) {
	b := NewBroker[int]()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(NewCreatedEvent(1))
	b.Publish(NewCreatedEvent(2)) // dropped, buffer full

	ev := <-ch
	assert.Equal(t, 1, ev.Payload)
	select {
	case extra, ok := <-ch:
		require.False(t, ok, "unexpected event %v", extra)
	default:
	}
}

func TestBrokerCancelClosesChannel(t *testing.T) {
	b := NewBroker[int]()
	ch, cancel := b.Subscribe(1)

	assert.Equal(t, 1, b.SubscriberCount())
	cancel()
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-ch
	assert.False(t, ok)

	// Cancelling twice must not panic.
	cancel()
}

func TestBrokerShutdown(t *testing.T) {
	b := NewBroker[int]()
	ch, _ := b.Subscribe(1)

	b.Shutdown()
	_, ok := <-ch
	assert.False(t, ok)

	// Publish after shutdown is a no-op.
	b.Publish(NewDeletedEvent(9))

	late, _ := b.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}
