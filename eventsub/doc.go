// Package eventsub receives Twitch EventSub webhook deliveries and fans them
// out to in-process listeners.
//
// The flow is: the HTTP boundary verifies a delivery (VerifySignature),
// parses it into an Envelope, and hands notifications to Dispatcher.Publish.
// The Dispatcher stamps each notification with the stream liveness decided
// by the Gate and puts it on the Bus. Each Listener owns one remote
// subscription, created through the Registry, for exactly as long as its Run
// call is active.
package eventsub
