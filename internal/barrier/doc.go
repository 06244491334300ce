// Package barrier implements named rendezvous points workers block on
// until every expected participant has arrived.
package barrier
