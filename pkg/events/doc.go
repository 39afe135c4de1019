/*
Package events provides an in-memory event broker for burrow's pub/sub
messaging.

Cluster components publish worker, deployment and token lifecycle events
to a broker; subscribers receive them on buffered channels. Delivery is
best effort: a subscriber whose buffer is full skips events rather than
blocking the broadcast loop.
*/
package events
