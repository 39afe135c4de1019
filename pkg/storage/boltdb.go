package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketWorkers         = []byte("workers")
	bucketTokens          = []byte("tokens")
	bucketServices        = []byte("services")
	bucketDeployments     = []byte("deployments")
	bucketDeploymentSlots = []byte("deployment_slots")
)

// BoltStore implements Store using BoltDB. Bolt serializes writers, so
// every read-modify-write done inside a single Update transaction is
// atomic against concurrent callers; token consumption and the
// deployment slot index rely on that.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketWorkers,
			bucketTokens,
			bucketServices,
			bucketDeployments,
			bucketDeploymentSlots,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Workers ---

// workerRecord is the storage encoding of a worker. The secret fields
// carry json:"-" on types.Worker so they never serialize into API
// responses; persistence re-tags them here.
type workerRecord struct {
	types.Worker
	EncryptedSecret []byte `json:"encrypted_secret,omitempty"`
	SecretHash      string `json:"secret_hash,omitempty"`
}

func encodeWorker(w *types.Worker) ([]byte, error) {
	return json.Marshal(&workerRecord{
		Worker:          *w,
		EncryptedSecret: w.EncryptedSecret,
		SecretHash:      w.SecretHash,
	})
}

func decodeWorker(data []byte) (*types.Worker, error) {
	var rec workerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	w := rec.Worker
	w.EncryptedSecret = rec.EncryptedSecret
	w.SecretHash = rec.SecretHash
	return &w, nil
}

// UpsertLeader self-registers the leader at startup. Any other record
// carrying the leader role is deleted so exactly one leader row exists.
func (s *BoltStore) UpsertLeader(hostname, vpnAddress string) (*types.Worker, error) {
	var leader *types.Worker
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)

		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			w, err := decodeWorker(v)
			if err != nil {
				return err
			}
			if w.Role == types.NodeRoleLeader && w.Hostname != hostname {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if data := b.Get([]byte(hostname)); data != nil {
			w, err := decodeWorker(data)
			if err != nil {
				return err
			}
			w.Role = types.NodeRoleLeader
			w.VPNAddress = vpnAddress
			w.Status = types.NodeStatusOnline
			w.LastSeen = now
			leader = w
		} else {
			leader = &types.Worker{
				ID:           hostname,
				Hostname:     hostname,
				VPNAddress:   vpnAddress,
				Platform:     types.PlatformLinux,
				Role:         types.NodeRoleLeader,
				Status:       types.NodeStatusOnline,
				RegisteredAt: now,
				LastSeen:     now,
			}
		}

		data, err := encodeWorker(leader)
		if err != nil {
			return err
		}
		return b.Put([]byte(hostname), data)
	})
	return leader, err
}

// InsertWorker stores a new worker; the hostname must be unused
func (s *BoltStore) InsertWorker(worker *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		if b.Get([]byte(worker.Hostname)) != nil {
			return errdefs.AlreadyRegistered("worker %s", worker.Hostname)
		}
		data, err := encodeWorker(worker)
		if err != nil {
			return err
		}
		return b.Put([]byte(worker.Hostname), data)
	})
}

// UpdateWorker applies mutate to the stored record inside one write
// transaction and returns the updated worker.
func (s *BoltStore) UpdateWorker(hostname string, mutate func(*types.Worker) error) (*types.Worker, error) {
	var updated *types.Worker
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data := b.Get([]byte(hostname))
		if data == nil {
			return errdefs.NotFound("worker %s", hostname)
		}

		w, err := decodeWorker(data)
		if err != nil {
			return err
		}
		if err := mutate(w); err != nil {
			return err
		}
		w.Hostname = hostname // key is immutable

		out, err := encodeWorker(w)
		if err != nil {
			return err
		}
		updated = w
		return b.Put([]byte(hostname), out)
	})
	return updated, err
}

// GetWorker retrieves a worker by hostname
func (s *BoltStore) GetWorker(hostname string) (*types.Worker, error) {
	var worker *types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		data := b.Get([]byte(hostname))
		if data == nil {
			return errdefs.NotFound("worker %s", hostname)
		}
		w, err := decodeWorker(data)
		if err != nil {
			return err
		}
		worker = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return worker, nil
}

// GetWorkerByVPNAddress retrieves a worker by its VPN address
func (s *BoltStore) GetWorkerByVPNAddress(addr string) (*types.Worker, error) {
	var found *types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.ForEach(func(k, v []byte) error {
			w, err := decodeWorker(v)
			if err != nil {
				return err
			}
			if w.VPNAddress == addr {
				found = w
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errdefs.NotFound("worker with vpn address %s", addr)
	}
	return found, nil
}

// ListWorkers returns workers matching the filter
func (s *BoltStore) ListWorkers(filter WorkerFilter) ([]*types.Worker, error) {
	var workers []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		return b.ForEach(func(k, v []byte) error {
			w, err := decodeWorker(v)
			if err != nil {
				return err
			}
			if filter.Status != "" && w.Status != filter.Status {
				return nil
			}
			if filter.Role != "" && w.Role != filter.Role {
				return nil
			}
			workers = append(workers, w)
			return nil
		})
	})
	return workers, err
}

// DeleteWorker removes a worker, reporting whether it existed
func (s *BoltStore) DeleteWorker(hostname string) (bool, error) {
	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		if b.Get([]byte(hostname)) == nil {
			return nil
		}
		existed = true
		return b.Delete([]byte(hostname))
	})
	return existed, err
}

// --- Join tokens ---

// CreateToken stores a new join token
func (s *BoltStore) CreateToken(token *types.JoinToken) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		data, err := json.Marshal(token)
		if err != nil {
			return err
		}
		return b.Put([]byte(token.Token), data)
	})
}

// GetToken retrieves a token record
func (s *BoltStore) GetToken(token string) (*types.JoinToken, error) {
	var jt types.JoinToken
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		data := b.Get([]byte(token))
		if data == nil {
			return errdefs.TokenInvalid("unknown token")
		}
		return json.Unmarshal(data, &jt)
	})
	if err != nil {
		return nil, err
	}
	return &jt, nil
}

// ValidateToken checks a token without consuming a use
func (s *BoltStore) ValidateToken(token string, now time.Time) error {
	jt, err := s.GetToken(token)
	if err != nil {
		return err
	}
	return checkToken(jt, now)
}

// ConsumeToken atomically validates and increments the use count.
// The check and the increment happen in one write transaction, so two
// concurrent redeemers of a single-use token cannot both succeed.
func (s *BoltStore) ConsumeToken(token string, now time.Time) (*types.JoinToken, error) {
	var jt types.JoinToken
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		data := b.Get([]byte(token))
		if data == nil {
			return errdefs.TokenInvalid("unknown token")
		}
		if err := json.Unmarshal(data, &jt); err != nil {
			return err
		}
		if err := checkToken(&jt, now); err != nil {
			return err
		}

		jt.Uses++
		out, err := json.Marshal(&jt)
		if err != nil {
			return err
		}
		return b.Put([]byte(token), out)
	})
	if err != nil {
		return nil, err
	}
	return &jt, nil
}

// RevokeToken deactivates a token without deleting its audit record
func (s *BoltStore) RevokeToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		data := b.Get([]byte(token))
		if data == nil {
			return errdefs.TokenInvalid("unknown token")
		}
		var jt types.JoinToken
		if err := json.Unmarshal(data, &jt); err != nil {
			return err
		}
		jt.IsActive = false
		out, err := json.Marshal(&jt)
		if err != nil {
			return err
		}
		return b.Put([]byte(token), out)
	})
}

// ListTokens returns all token records
func (s *BoltStore) ListTokens() ([]*types.JoinToken, error) {
	var tokens []*types.JoinToken
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.ForEach(func(k, v []byte) error {
			var jt types.JoinToken
			if err := json.Unmarshal(v, &jt); err != nil {
				return err
			}
			tokens = append(tokens, &jt)
			return nil
		})
	})
	return tokens, err
}

func checkToken(jt *types.JoinToken, now time.Time) error {
	if !jt.IsActive {
		return errdefs.TokenInvalid("token revoked")
	}
	if jt.Expired(now) {
		return errdefs.TokenExpired("token expired at %s", jt.ExpiresAt.Format(time.RFC3339))
	}
	if jt.Exhausted() {
		return errdefs.TokenExhausted("token used %d of %d times", jt.Uses, jt.MaxUses)
	}
	return nil
}

// --- Service catalog ---

// CreateService stores a new service definition
func (s *BoltStore) CreateService(svc *types.ServiceDefinition) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		if b.Get([]byte(svc.ServiceID)) != nil {
			return errdefs.Conflict("service %s already exists", svc.ServiceID)
		}
		data, err := json.Marshal(svc)
		if err != nil {
			return err
		}
		return b.Put([]byte(svc.ServiceID), data)
	})
}

// GetService retrieves a service definition
func (s *BoltStore) GetService(serviceID string) (*types.ServiceDefinition, error) {
	var svc types.ServiceDefinition
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		data := b.Get([]byte(serviceID))
		if data == nil {
			return errdefs.NotFound("service %s", serviceID)
		}
		return json.Unmarshal(data, &svc)
	})
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

// ListServices returns all service definitions
func (s *BoltStore) ListServices() ([]*types.ServiceDefinition, error) {
	var services []*types.ServiceDefinition
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		return b.ForEach(func(k, v []byte) error {
			var svc types.ServiceDefinition
			if err := json.Unmarshal(v, &svc); err != nil {
				return err
			}
			services = append(services, &svc)
			return nil
		})
	})
	return services, err
}

// UpdateService overwrites a service definition
func (s *BoltStore) UpdateService(svc *types.ServiceDefinition) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		if b.Get([]byte(svc.ServiceID)) == nil {
			return errdefs.NotFound("service %s", svc.ServiceID)
		}
		data, err := json.Marshal(svc)
		if err != nil {
			return err
		}
		return b.Put([]byte(svc.ServiceID), data)
	})
}

// DeleteService removes a service definition
func (s *BoltStore) DeleteService(serviceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		if b.Get([]byte(serviceID)) == nil {
			return errdefs.NotFound("service %s", serviceID)
		}
		return b.Delete([]byte(serviceID))
	})
}

// --- Deployments ---

func slotKey(serviceID, hostname string) []byte {
	return []byte(serviceID + "|" + hostname)
}

// PutDeployment writes a deployment and maintains the slot index that
// keeps (service, worker) unique. The slot tracks its occupant through
// every status, so a failed or stopped deployment still owns it until
// DeleteDeployment; a put by any other deployment id fails with
// conflict.
func (s *BoltStore) PutDeployment(d *types.Deployment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		deployments := tx.Bucket(bucketDeployments)
		slots := tx.Bucket(bucketDeploymentSlots)
		key := slotKey(d.ServiceID, d.WorkerHostname)

		if owner := slots.Get(key); owner != nil && string(owner) != d.ID {
			return errdefs.Conflict("deployment %s already occupies service %s on %s",
				owner, d.ServiceID, d.WorkerHostname)
		}
		if err := slots.Put(key, []byte(d.ID)); err != nil {
			return err
		}

		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return deployments.Put([]byte(d.ID), data)
	})
}

// GetDeployment retrieves a deployment by id
func (s *BoltStore) GetDeployment(id string) (*types.Deployment, error) {
	var d types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.NotFound("deployment %s", id)
		}
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDeploymentBySlot returns the deployment occupying a
// (service, worker) slot, whatever its status, or not_found when the
// slot is free.
func (s *BoltStore) GetDeploymentBySlot(serviceID, hostname string) (*types.Deployment, error) {
	var d types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		slots := tx.Bucket(bucketDeploymentSlots)
		owner := slots.Get(slotKey(serviceID, hostname))
		if owner == nil {
			return errdefs.NotFound("no deployment for service %s on %s", serviceID, hostname)
		}
		data := tx.Bucket(bucketDeployments).Get(owner)
		if data == nil {
			return errdefs.NotFound("deployment %s", owner)
		}
		return json.Unmarshal(data, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDeployments returns all deployments
func (s *BoltStore) ListDeployments() ([]*types.Deployment, error) {
	return s.listDeployments(func(*types.Deployment) bool { return true })
}

// ListDeploymentsByService returns deployments of one service
func (s *BoltStore) ListDeploymentsByService(serviceID string) ([]*types.Deployment, error) {
	return s.listDeployments(func(d *types.Deployment) bool { return d.ServiceID == serviceID })
}

// ListDeploymentsByWorker returns deployments placed on one worker
func (s *BoltStore) ListDeploymentsByWorker(hostname string) ([]*types.Deployment, error) {
	return s.listDeployments(func(d *types.Deployment) bool { return d.WorkerHostname == hostname })
}

func (s *BoltStore) listDeployments(keep func(*types.Deployment) bool) ([]*types.Deployment, error) {
	var out []*types.Deployment
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeployments)
		return b.ForEach(func(k, v []byte) error {
			var d types.Deployment
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if keep(&d) {
				out = append(out, &d)
			}
			return nil
		})
	})
	return out, err
}

// DeleteDeployment removes a deployment and releases its slot
func (s *BoltStore) DeleteDeployment(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		deployments := tx.Bucket(bucketDeployments)
		data := deployments.Get([]byte(id))
		if data == nil {
			return errdefs.NotFound("deployment %s", id)
		}
		var d types.Deployment
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}

		slots := tx.Bucket(bucketDeploymentSlots)
		key := slotKey(d.ServiceID, d.WorkerHostname)
		if owner := slots.Get(key); owner != nil && string(owner) == d.ID {
			if err := slots.Delete(key); err != nil {
				return err
			}
		}
		return deployments.Delete([]byte(id))
	})
}
