// Copyright 2025 Patrick J. Scruggs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package slogsdpubsub carries trace context across Pub/Sub and runs
// message handlers inside a span of a [span.Registry].
//
// Pub/Sub is an event boundary, so trace context does not flow on its own
// the way it does for HTTP or gRPC. Publishers call [Inject] to copy the
// current trace context into message attributes. Subscribers wrap their
// receive callback with [WrapReceiveHandler], which extracts that context,
// opens a registry span describing the message and hands the callback a
// context in which the span is current. Entries logged with that context
// carry the message fields under `span` and the publisher's trace under
// the Cloud Trace keys.
//
//	sub := client.Subscriber(subscriptionID)
//	err := sub.Receive(ctx, slogsdpubsub.WrapReceiveHandler(
//	    func(ctx context.Context, msg *pubsub.Message) {
//	        logger.InfoContext(ctx, "processing order")
//	        msg.Ack()
//	    },
//	    slogsdpubsub.WithRegistry(reg),
//	    slogsdpubsub.WithSubscriptionID(subscriptionID),
//	))
package slogsdpubsub
