// Package eventbus implements an in-process publish/subscribe bus. Values are
// delivered to subscribers through buffered channels without ever blocking
// the publisher: a subscriber whose buffer is full misses the value.
//
// Besides plain broadcast, subscribers can join named topics. PublishTo
// delivers a value once to every subscriber joined to at least one of the
// given topics. Topics exist while they have members.
package eventbus
