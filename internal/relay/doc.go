// Package relay speaks the relay wire protocol over websockets: publishing
// signed events with OK acknowledgements, REQ subscriptions for the
// remote-signer channel, concurrent fan-out across the configured relay set,
// and a best-effort cache import side channel.
package relay
