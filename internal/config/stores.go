package config

import (
	"errors"
	"fmt"

	"robotcell/pkg/types"
)

// ErrPoseNotFound is returned for a pose name the configuration does not define.
var ErrPoseNotFound = errors.New("named pose not found")

// Source returns the live configuration.
type Source interface {
	GetConfig() types.SystemConfig
}

// Static serves a fixed configuration.
type Static types.SystemConfig

func (s Static) GetConfig() types.SystemConfig { return types.SystemConfig(s) }

// PositionStore resolves taught points by name.
type PositionStore struct {
	src Source
}

// NewPositionStore 创建点位存储
func NewPositionStore(src Source) *PositionStore {
	return &PositionStore{src: src}
}

func (s *PositionStore) GetNamedPose(name string) (types.Pose, error) {
	p, ok := s.src.GetConfig().Positions[name]
	if !ok {
		return types.Pose{}, fmt.Errorf("%w: %s", ErrPoseNotFound, name)
	}
	return p, nil
}

// PropertiesStore serves collision profiles and the robot's default motion parameters.
type PropertiesStore struct {
	src Source
}

// NewPropertiesStore 创建属性存储
func NewPropertiesStore(src Source) *PropertiesStore {
	return &PropertiesStore{src: src}
}

func (s *PropertiesStore) GetCollisionProfiles() ([]types.CollisionProfile, error) {
	profiles := s.src.GetConfig().Collision.Profiles
	out := make([]types.CollisionProfile, len(profiles))
	copy(out, profiles)
	return out, nil
}

func (s *PropertiesStore) GetRobotDefaults() (types.RobotDefaults, error) {
	return s.src.GetConfig().Defaults, nil
}

// DiagnosticCatalog describes controller alarm codes and motion result codes.
type DiagnosticCatalog struct {
	src Source
}

// NewDiagnosticCatalog 创建诊断目录
func NewDiagnosticCatalog(src Source) *DiagnosticCatalog {
	return &DiagnosticCatalog{src: src}
}

func (c *DiagnosticCatalog) DescribeAlarm(main, sub int) (types.AlarmCode, bool) {
	for _, code := range c.src.GetConfig().Diagnostics.Alarms {
		if code.Main == main && code.Sub == sub {
			return code, true
		}
	}
	return types.AlarmCode{}, false
}

func (c *DiagnosticCatalog) DescribeMotion(code int) (types.MotionCode, bool) {
	for _, mc := range c.src.GetConfig().Diagnostics.Motion {
		if mc.Code == code {
			return mc, true
		}
	}
	return types.MotionCode{}, false
}
