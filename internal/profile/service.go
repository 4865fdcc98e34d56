package profile

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	xerrors "github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/errors"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/pkg/logger"
)

// Service 封装档案的业务规则：字段校验、邮箱唯一性、时间戳维护。
type Service struct {
	store Store
	now   func() time.Time
	audit *slog.Logger
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 创建 Service。
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now, audit: logger.Audit()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Create 校验输入并保存新档案。
func (s *Service) Create(ctx context.Context, in Input) (*Profile, error) {
	cleaned, verr := validate(in, false)
	if err := s.checkEmail(ctx, cleaned.Email, 0, verr); err != nil {
		return nil, err
	}
	now := s.timestamp()
	p := &Profile{CreatedAt: now, UpdatedAt: now}
	cleaned.apply(p)
	if err := s.store.Create(ctx, p); err != nil {
		return nil, translate(err)
	}
	s.audit.Info("profile created", slog.Int64("profile_id", p.ID), slog.String("email", p.Email))
	return p, nil
}

// List 返回满足条件的档案，按 ID 升序。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Profile, error) {
	profiles, err := s.store.List(ctx, BuildListOptions(opts...))
	if err != nil {
		return nil, translate(err)
	}
	return profiles, nil
}

// Get 按 ID 查询档案。
func (s *Service) Get(ctx context.Context, id int64) (*Profile, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return p, nil
}

// Update 整体替换可写字段，缺失的必填字段视为错误，缺失的可选字段置空。
func (s *Service) Update(ctx context.Context, id int64, in Input) (*Profile, error) {
	if !in.Bio.Present {
		in.Bio = Null()
	}
	if !in.Phone.Present {
		in.Phone = Null()
	}
	return s.save(ctx, id, in, false)
}

// Patch 只修改请求中出现的字段。
func (s *Service) Patch(ctx context.Context, id int64, in Input) (*Profile, error) {
	return s.save(ctx, id, in, true)
}

func (s *Service) save(ctx context.Context, id int64, in Input, partial bool) (*Profile, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	cleaned, verr := validate(in, partial)
	if err := s.checkEmail(ctx, cleaned.Email, id, verr); err != nil {
		return nil, err
	}
	cleaned.apply(current)
	current.UpdatedAt = s.timestamp()
	if err := s.store.Update(ctx, current); err != nil {
		return nil, translate(err)
	}
	s.audit.Info("profile updated", slog.Int64("profile_id", id), slog.Bool("partial", partial))
	return current, nil
}

// Delete 删除档案。
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return translate(err)
	}
	s.audit.Info("profile deleted", slog.Int64("profile_id", id))
	return nil
}

// checkEmail 在其他字段已校验的基础上补充唯一性检查，合并返回所有字段错误。
func (s *Service) checkEmail(ctx context.Context, email Field, excludeID int64, verr *ValidationError) error {
	if verr == nil {
		verr = &ValidationError{}
	}
	if email.Present && !email.Null && len(verr.Fields["email"]) == 0 {
		taken, err := s.store.EmailTaken(ctx, email.Value, excludeID)
		if err != nil {
			return translate(err)
		}
		if taken {
			verr.add("email", MsgEmailTaken)
		}
	}
	if verr.empty() {
		return nil
	}
	return verr
}

// translate 把存储层错误转换为对外错误：邮箱冲突转为字段错误，其他未归类错误视为存储故障。
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicateEmail):
		verr := &ValidationError{}
		verr.add("email", MsgEmailTaken)
		return verr
	case errors.Is(err, ErrNotFound):
		return err
	case xerrors.CodeOf(err) != xerrors.CodeUnknown:
		return err
	default:
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "profile storage failure")
	}
}

// ParseID 解析路径中的档案 ID。
func ParseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
