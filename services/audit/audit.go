package audit

import (
	"context"
	"encoding/json"
	"time"

	"coinledger/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog is the append-only trail for admin-initiated operations.
type AuditLog struct {
	ID        string         `gorm:"column:id;primaryKey"`
	ActorID   string         `gorm:"column:actor_id;index;not null"`
	Action    string         `gorm:"column:action;not null"`
	TargetID  string         `gorm:"column:target_id;index"`
	Detail    datatypes.JSON `gorm:"column:detail"`
	CreatedAt time.Time      `gorm:"column:created_at"`
}

func Models() []any {
	return []any{&AuditLog{}}
}

type Entry struct {
	ActorID  string
	Action   string
	TargetID string
	Detail   map[string]any
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

var Module = fx.Module("audit",
	fx.Provide(NewRecorder),
)

type recorder struct {
	node *snowflake.Node
	logs repository.Repository[AuditLog]
}

type Params struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewRecorder(p Params) Recorder {
	return &recorder{
		node: p.Node,
		logs: repository.ProvideStore[AuditLog](p.DB),
	}
}

func (r *recorder) Record(ctx context.Context, entry Entry) error {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return err
	}

	log := &AuditLog{
		ID:        r.node.Generate().String(),
		ActorID:   entry.ActorID,
		Action:    entry.Action,
		TargetID:  entry.TargetID,
		Detail:    datatypes.JSON(detail),
		CreatedAt: time.Now(),
	}

	if err := r.logs.Create(ctx, log); err != nil {
		zap.L().Error("failed to record audit entry",
			zap.String("actor_id", entry.ActorID),
			zap.String("action", entry.Action),
			zap.Error(err),
		)
		return err
	}

	return nil
}
