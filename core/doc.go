// Package core contains the ingestion domain: jobs, products, webhook
// subscriptions, store contracts, configuration, and the service that the
// command, query and HTTP layers call into. Storage, queue and transport
// adapters depend on this package; core must not depend on them.
package core
