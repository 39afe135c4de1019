/*
Package security provides the cryptographic primitives burrow uses to
protect per-worker secrets and attached cluster credentials.

# Vault

Vault performs symmetric seal/unseal with AES-256-GCM. Its key is derived
deterministically (SHA-256) from a single master secret, which gives a
stable key across process restarts without any external KMS. The wire
format is nonce||ciphertext||tag. Unseal failures (tampering, truncation,
rotated master secret) surface as token_invalid.

Rotating the master secret invalidates every sealed blob. Callers must
treat rotation as a full re-registration event for all workers.

# Hashing

Hash produces the SHA-256 digest used for authenticating inbound worker
requests. VerifyHash compares in constant time so the comparison does not
leak timing.

# BlobStore

BlobStore persists sealed credential files (cluster access blobs) under a
0700 directory with file extension .enc and mode 0600. A legacy plaintext
file found in place of an .enc blob is sealed and removed the first time
it is read.

# Random tokens

RandomToken produces URL-safe strings from crypto/rand; it backs both
join tokens and per-worker shared secrets.
*/
package security
