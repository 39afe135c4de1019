/*
Package storage persists burrow's cluster state in BoltDB.

# Layout

One bucket per entity, values stored as JSON:

  - workers           key = hostname
  - tokens            key = token string
  - services          key = service_id
  - deployments       key = deployment id
  - deployment_slots  key = service_id|hostname -> live deployment id

# Atomicity

Bolt serializes write transactions, which the store leans on for its two
correctness-critical operations:

  - ConsumeToken checks expiry/use-count and increments uses inside a
    single Update transaction, so at most MaxUses concurrent redeemers
    ever succeed.
  - PutDeployment maintains the deployment_slots index in the same
    transaction as the record write, enforcing at most one deployment in
    a live state (deploying or running) per (service, worker) pair.

# Invariants owned here

  - Worker hostnames are unique (hostname is the bucket key; InsertWorker
    refuses an existing key with already_registered).
  - Exactly one worker row carries the leader role: UpsertLeader deletes
    any other leader record in the same transaction.
*/
package storage
