package config

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/turbocache/internal/bytesize"
	turbocachemetrics "github.com/marmos91/turbocache/pkg/metrics"
	"github.com/marmos91/turbocache/pkg/store"
	"github.com/marmos91/turbocache/pkg/store/compression"
	"github.com/marmos91/turbocache/pkg/store/dedup"
	"github.com/marmos91/turbocache/pkg/store/existence"
	"github.com/marmos91/turbocache/pkg/store/fastslow"
	"github.com/marmos91/turbocache/pkg/store/filesystem"
	"github.com/marmos91/turbocache/pkg/store/grpcstore"
	"github.com/marmos91/turbocache/pkg/store/memory"
	storemetrics "github.com/marmos91/turbocache/pkg/store/metrics"
	"github.com/marmos91/turbocache/pkg/store/ref"
	storeS3 "github.com/marmos91/turbocache/pkg/store/s3"
	"github.com/marmos91/turbocache/pkg/store/sizepartitioning"
	"github.com/marmos91/turbocache/pkg/store/verify"
	"github.com/marmos91/turbocache/pkg/storemanager"
)

// StoreKind selects which store.Store implementation a StoreConfig node
// builds, the same declarative-tree approach the scheduler factory uses
// for its decorator chain (see pkg/scheduler/factory), generalized here to
// the store side: a deployment names a tree of decorators over a terminal
// backend (memory, filesystem, S3, or a gRPC passthrough to another CAS).
type StoreKind string

const (
	KindMemory           StoreKind = "memory"
	KindFilesystem       StoreKind = "filesystem"
	KindFastSlow         StoreKind = "fast_slow"
	KindSizePartitioning StoreKind = "size_partitioning"
	KindDedup            StoreKind = "dedup"
	KindCompression      StoreKind = "compression"
	KindVerify           StoreKind = "verify"
	KindExistence        StoreKind = "existence"
	KindRef              StoreKind = "ref"
	KindS3               StoreKind = "s3"
	KindGRPC             StoreKind = "grpc"
	KindMetrics          StoreKind = "metrics"
)

// StoreConfig is one node in a store decorator tree.
type StoreConfig struct {
	Kind StoreKind `mapstructure:"kind" yaml:"kind"`

	Memory           *MemoryStoreConfig           `mapstructure:"memory" yaml:"memory,omitempty"`
	Filesystem       *FilesystemStoreConfig       `mapstructure:"filesystem" yaml:"filesystem,omitempty"`
	FastSlow         *FastSlowStoreConfig         `mapstructure:"fast_slow" yaml:"fast_slow,omitempty"`
	SizePartitioning *SizePartitioningStoreConfig `mapstructure:"size_partitioning" yaml:"size_partitioning,omitempty"`
	Dedup            *DedupStoreConfig            `mapstructure:"dedup" yaml:"dedup,omitempty"`
	Compression      *CompressionStoreConfig      `mapstructure:"compression" yaml:"compression,omitempty"`
	Verify           *VerifyStoreConfig           `mapstructure:"verify" yaml:"verify,omitempty"`
	Existence        *ExistenceStoreConfig        `mapstructure:"existence" yaml:"existence,omitempty"`
	Ref              *RefStoreConfig              `mapstructure:"ref" yaml:"ref,omitempty"`
	S3               *S3StoreConfig               `mapstructure:"s3" yaml:"s3,omitempty"`
	GRPC             *GRPCStoreConfig             `mapstructure:"grpc" yaml:"grpc,omitempty"`
	Metrics          *MetricsStoreConfig          `mapstructure:"metrics" yaml:"metrics,omitempty"`
}

type MemoryStoreConfig struct {
	MaxSize bytesize.ByteSize `mapstructure:"max_size" yaml:"max_size"`
}

type FilesystemStoreConfig struct {
	Root           string `mapstructure:"root" validate:"required" yaml:"root"`
	AtimeIndexPath string `mapstructure:"atime_index_path" yaml:"atime_index_path,omitempty"`
}

type FastSlowStoreConfig struct {
	Fast *StoreConfig `mapstructure:"fast" yaml:"fast"`
	Slow *StoreConfig `mapstructure:"slow" yaml:"slow"`
}

type SizePartitioningStoreConfig struct {
	Threshold bytesize.ByteSize `mapstructure:"threshold" yaml:"threshold"`
	Small     *StoreConfig      `mapstructure:"small" yaml:"small"`
	Large     *StoreConfig      `mapstructure:"large" yaml:"large"`
}

type DedupStoreConfig struct {
	Inner *StoreConfig `mapstructure:"inner" yaml:"inner"`
}

type CompressionStoreConfig struct {
	Inner *StoreConfig `mapstructure:"inner" yaml:"inner"`
}

type VerifyStoreConfig struct {
	VerifySize bool         `mapstructure:"verify_size" yaml:"verify_size"`
	VerifyHash bool         `mapstructure:"verify_hash" yaml:"verify_hash"`
	Inner      *StoreConfig `mapstructure:"inner" yaml:"inner"`
}

type ExistenceStoreConfig struct {
	HitTTL  string       `mapstructure:"hit_ttl" yaml:"hit_ttl,omitempty"`
	MissTTL string       `mapstructure:"miss_ttl" yaml:"miss_ttl,omitempty"`
	Inner   *StoreConfig `mapstructure:"inner" yaml:"inner"`
}

// RefStoreConfig names another entry in Config.Stores this store resolves
// through storemanager at call time, the way a deployment points an
// action's output store at a store another section already configured
// without duplicating its definition.
type RefStoreConfig struct {
	Name string `mapstructure:"name" validate:"required" yaml:"name"`
}

type S3StoreConfig struct {
	Region     string            `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint   string            `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Bucket     string            `mapstructure:"bucket" validate:"required" yaml:"bucket"`
	KeyPrefix  string            `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`
	PartSize   bytesize.ByteSize `mapstructure:"part_size" yaml:"part_size,omitempty"`
	MaxRetries int               `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
}

type GRPCStoreConfig struct {
	Address string `mapstructure:"address" validate:"required" yaml:"address"`
}

// MetricsStoreConfig wraps Inner with the pkg/store/metrics observability
// decorator, labeling every recorded metric with Name (so "cas" and "ac"
// report separately even when they share an underlying implementation).
type MetricsStoreConfig struct {
	Name  string       `mapstructure:"name" validate:"required" yaml:"name"`
	Inner *StoreConfig `mapstructure:"inner" yaml:"inner"`
}

// BuildStores constructs every named store in cfg, registering each with
// manager as it is built so a later RefStoreConfig (evaluated in the same
// pass, or registered ahead of time by a caller) can resolve it by name.
// Stores are built in map iteration order; a RefStoreConfig naming a store
// not yet built is resolved lazily at call time through manager instead of
// at construction time, so ordering between named stores never matters.
func BuildStores(ctx context.Context, cfg map[string]StoreConfig, manager *storemanager.Manager) error {
	for name, sc := range cfg {
		s, err := sc.Build(ctx, manager)
		if err != nil {
			return fmt.Errorf("building store %q: %w", name, err)
		}
		manager.Register(name, s)
	}
	return nil
}

// Build recursively constructs the store.Store tree described by sc.
func (sc StoreConfig) Build(ctx context.Context, manager *storemanager.Manager) (store.Store, error) {
	switch sc.Kind {
	case KindMemory:
		var maxSize int64 // no memory section: unbounded
		if sc.Memory != nil {
			maxSize = sc.Memory.MaxSize.Int64()
		}
		return memory.New(maxSize), nil

	case KindFilesystem:
		if sc.Filesystem == nil {
			return nil, fmt.Errorf("store kind %q requires a filesystem section", sc.Kind)
		}
		return filesystem.New(filesystem.Options{
			Root:           sc.Filesystem.Root,
			AtimeIndexPath: sc.Filesystem.AtimeIndexPath,
		})

	case KindFastSlow:
		if sc.FastSlow == nil || sc.FastSlow.Fast == nil || sc.FastSlow.Slow == nil {
			return nil, fmt.Errorf("store kind %q requires fast and slow sections", sc.Kind)
		}
		fast, err := sc.FastSlow.Fast.Build(ctx, manager)
		if err != nil {
			return nil, err
		}
		slow, err := sc.FastSlow.Slow.Build(ctx, manager)
		if err != nil {
			return nil, err
		}
		return fastslow.New(fast, slow), nil

	case KindSizePartitioning:
		if sc.SizePartitioning == nil || sc.SizePartitioning.Small == nil || sc.SizePartitioning.Large == nil {
			return nil, fmt.Errorf("store kind %q requires small and large sections", sc.Kind)
		}
		small, err := sc.SizePartitioning.Small.Build(ctx, manager)
		if err != nil {
			return nil, err
		}
		large, err := sc.SizePartitioning.Large.Build(ctx, manager)
		if err != nil {
			return nil, err
		}
		return sizepartitioning.New(sc.SizePartitioning.Threshold.Int64(), small, large), nil

	case KindDedup:
		if sc.Dedup == nil || sc.Dedup.Inner == nil {
			return nil, fmt.Errorf("store kind %q requires an inner section", sc.Kind)
		}
		inner, err := sc.Dedup.Inner.Build(ctx, manager)
		if err != nil {
			return nil, err
		}
		return dedup.New(inner), nil

	case KindCompression:
		if sc.Compression == nil || sc.Compression.Inner == nil {
			return nil, fmt.Errorf("store kind %q requires an inner section", sc.Kind)
		}
		inner, err := sc.Compression.Inner.Build(ctx, manager)
		if err != nil {
			return nil, err
		}
		return compression.New(inner), nil

	case KindVerify:
		if sc.Verify == nil || sc.Verify.Inner == nil {
			return nil, fmt.Errorf("store kind %q requires an inner section", sc.Kind)
		}
		inner, err := sc.Verify.Inner.Build(ctx, manager)
		if err != nil {
			return nil, err
		}
		return verify.New(inner, verify.Options{
			VerifySize: sc.Verify.VerifySize,
			VerifyHash: sc.Verify.VerifyHash,
		}), nil

	case KindExistence:
		if sc.Existence == nil || sc.Existence.Inner == nil {
			return nil, fmt.Errorf("store kind %q requires an inner section", sc.Kind)
		}
		inner, err := sc.Existence.Inner.Build(ctx, manager)
		if err != nil {
			return nil, err
		}
		opts, err := parseExistenceTTLs(sc.Existence)
		if err != nil {
			return nil, err
		}
		return existence.New(inner, opts), nil

	case KindRef:
		if sc.Ref == nil {
			return nil, fmt.Errorf("store kind %q requires a ref section", sc.Kind)
		}
		return ref.New(manager, sc.Ref.Name), nil

	case KindS3:
		if sc.S3 == nil {
			return nil, fmt.Errorf("store kind %q requires an s3 section", sc.Kind)
		}
		return buildS3Store(ctx, sc.S3)

	case KindGRPC:
		if sc.GRPC == nil {
			return nil, fmt.Errorf("store kind %q requires a grpc section", sc.Kind)
		}
		return buildGRPCStore(ctx, sc.GRPC)

	case KindMetrics:
		if sc.Metrics == nil || sc.Metrics.Inner == nil {
			return nil, fmt.Errorf("store kind %q requires a metrics section with an inner store", sc.Kind)
		}
		inner, err := sc.Metrics.Inner.Build(ctx, manager)
		if err != nil {
			return nil, err
		}
		return storemetrics.New(inner, turbocachemetrics.NewStoreMetrics(sc.Metrics.Name)), nil

	default:
		return nil, fmt.Errorf("unrecognized store kind %q", sc.Kind)
	}
}

func buildS3Store(ctx context.Context, cfg *S3StoreConfig) (store.Store, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		}
	})

	partSize := cfg.PartSize.Int64()
	if partSize == 0 {
		partSize = 8 << 20
	}
	return storeS3.New(storeS3.Options{
		Client:     client,
		Bucket:     cfg.Bucket,
		KeyPrefix:  cfg.KeyPrefix,
		PartSize:   partSize,
		MaxRetries: cfg.MaxRetries,
	}), nil
}

func buildGRPCStore(ctx context.Context, cfg *GRPCStoreConfig) (store.Store, error) {
	conn, err := dialInsecure(ctx, cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("dialing store backend %s: %w", cfg.Address, err)
	}
	return grpcstore.New(conn), nil
}

func parseExistenceTTLs(cfg *ExistenceStoreConfig) (existence.Options, error) {
	var opts existence.Options
	if cfg.HitTTL != "" {
		d, err := parseDurationField("existence.hit_ttl", cfg.HitTTL)
		if err != nil {
			return opts, err
		}
		opts.HitTTL = d
	}
	if cfg.MissTTL != "" {
		d, err := parseDurationField("existence.miss_ttl", cfg.MissTTL)
		if err != nil {
			return opts, err
		}
		opts.MissTTL = d
	}
	return opts, nil
}
