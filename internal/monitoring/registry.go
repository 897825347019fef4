package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// Redis key prefixes
	instanceKeyPrefix = "repod:instances:"
	instanceIndexKey  = "repod:instances:index"

	// Default timeout to mark instance as offline
	defaultInstanceTTL = 90 * time.Second

	// Instance records expire from Redis after a day without heartbeat
	redisStorageTTL = 24 * time.Hour
)

// Registry keeps repod process heartbeats in Redis
type Registry struct {
	client      *redis.Client
	instanceTTL time.Duration // Timeout to mark as offline
	now         func() time.Time
}

// NewRegistry connects to redisURL. Instances that missed heartbeats for
// ttl are reported offline.
func NewRegistry(ctx context.Context, redisURL string, ttl time.Duration) (*Registry, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRegistryWithClient(client, ttl), nil
}

// NewRegistryWithClient wraps an existing client.
func NewRegistryWithClient(client *redis.Client, ttl time.Duration) *Registry {
	if ttl == 0 {
		ttl = defaultInstanceTTL
	}
	return &Registry{
		client:      client,
		instanceTTL: ttl,
		now:         time.Now,
	}
}

func typeIndexKey(instanceType InstanceType) string {
	return instanceKeyPrefix + string(instanceType) + ":index"
}

// UpdateInstance updates or creates an instance record
func (r *Registry) UpdateInstance(ctx context.Context, info InstanceInfo) error {
	info.LastHeartbeat = r.now()
	info.Status = StatusOnline

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal instance info: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, instanceKeyPrefix+info.InstanceID, data, redisStorageTTL)
	// indices have no TTL, CleanupStaleInstances prunes them
	pipe.SAdd(ctx, instanceIndexKey, info.InstanceID)
	pipe.SAdd(ctx, typeIndexKey(info.InstanceType), info.InstanceID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID
func (r *Registry) GetInstance(ctx context.Context, instanceID string) (*InstanceInfo, error) {
	data, err := r.client.Get(ctx, instanceKeyPrefix+instanceID).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("instance not found: %s", instanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	var info InstanceInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance info: %w", err)
	}
	info.Status = instanceStatus(info, r.now(), r.instanceTTL)
	return &info, nil
}

// ListInstances retrieves all instances, optionally filtered by type and status
func (r *Registry) ListInstances(ctx context.Context, instanceType InstanceType, status InstanceStatus) ([]*InstanceInfo, error) {
	indexKey := instanceIndexKey
	if instanceType != "" {
		indexKey = typeIndexKey(instanceType)
	}

	instanceIDs, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	sort.Strings(instanceIDs)

	instances := make([]*InstanceInfo, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		info, err := r.GetInstance(ctx, id)
		if err != nil {
			// expired, CleanupStaleInstances removes it from the index
			continue
		}
		if status != "" && info.Status != status {
			continue
		}
		instances = append(instances, info)
	}
	return instances, nil
}

// CleanupStaleInstances drops index entries whose instance record expired.
func (r *Registry) CleanupStaleInstances(ctx context.Context) error {
	instanceIDs, err := r.client.SMembers(ctx, instanceIndexKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list instances for cleanup: %w", err)
	}

	removed := 0
	for _, id := range instanceIDs {
		exists, err := r.client.Exists(ctx, instanceKeyPrefix+id).Result()
		if err != nil {
			return fmt.Errorf("failed to check instance %s: %w", id, err)
		}
		if exists > 0 {
			continue
		}
		pipe := r.client.Pipeline()
		pipe.SRem(ctx, instanceIndexKey, id)
		if instanceType, ok := typeFromID(id); ok {
			pipe.SRem(ctx, typeIndexKey(instanceType), id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to remove instance %s: %w", id, err)
		}
		removed++
	}

	if removed > 0 {
		log.Printf("Cleanup: removed %d stale instances\n", removed)
	}
	return nil
}

// GetSummary returns aggregate statistics about instances
func (r *Registry) GetSummary(ctx context.Context) (InstanceSummary, error) {
	instances, err := r.ListInstances(ctx, "", "")
	if err != nil {
		return InstanceSummary{}, err
	}
	return summarize(instances), nil
}

// Close closes the Redis connection
func (r *Registry) Close() error {
	return r.client.Close()
}

func instanceStatus(info InstanceInfo, now time.Time, ttl time.Duration) InstanceStatus {
	if now.Sub(info.LastHeartbeat) > ttl {
		return StatusOffline
	}
	return StatusOnline
}

// typeFromID extracts the type suffix of an ID made by GenerateInstanceID.
func typeFromID(instanceID string) (InstanceType, bool) {
	i := strings.LastIndex(instanceID, "-")
	if i < 0 || i == len(instanceID)-1 {
		return "", false
	}
	return InstanceType(instanceID[i+1:]), true
}

func summarize(instances []*InstanceInfo) InstanceSummary {
	summary := InstanceSummary{
		Total:  len(instances),
		ByType: make(map[string]int),
	}
	for _, instance := range instances {
		if instance.Status == StatusOnline {
			summary.Online++
		} else {
			summary.Offline++
		}
		summary.ByType[string(instance.InstanceType)]++
	}
	return summary
}
