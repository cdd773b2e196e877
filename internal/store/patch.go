package store

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Patch 为声明式字段级更新：set/unset/inc/addToSet/pull，不支持整文档替换。
// 键为存储字段路径（含 "attachments.3.translations.en" 形式的嵌套路径）。
// 单文档粒度内各操作符由存储引擎保证原子性，这是本层唯一依赖的并发原语。
type Patch struct {
	Set      map[string]any
	Unset    []string
	Inc      map[string]int
	AddToSet map[string]any // 值为 []string 时按 $each 合并，否则按单元素加入
	Pull     map[string]any
}

// withUpdatedAt 为补丁附带 _updatedAt 刷新（已显式设置时不覆盖）。
func (p Patch) withUpdatedAt(now time.Time) Patch {
	if _, ok := p.Set["_updatedAt"]; ok {
		return p
	}
	set := map[string]any{"_updatedAt": now}
	for k, v := range p.Set {
		set[k] = v
	}
	p.Set = set
	return p
}

// IsZero 判断补丁是否为空。
func (p Patch) IsZero() bool {
	return len(p.Set) == 0 && len(p.Unset) == 0 && len(p.Inc) == 0 &&
		len(p.AddToSet) == 0 && len(p.Pull) == 0
}

// Validate 校验补丁：空补丁与空字段路径均拒绝。
func (p Patch) Validate() error {
	if p.IsZero() {
		return fmt.Errorf("%w: empty patch", ErrInvalidFilter)
	}
	check := func(k string) error {
		if k == "" {
			return fmt.Errorf("%w: empty field path in patch", ErrInvalidFilter)
		}
		return nil
	}
	for k := range p.Set {
		if err := check(k); err != nil {
			return err
		}
	}
	for _, k := range p.Unset {
		if err := check(k); err != nil {
			return err
		}
	}
	for k := range p.Inc {
		if err := check(k); err != nil {
			return err
		}
	}
	for k := range p.AddToSet {
		if err := check(k); err != nil {
			return err
		}
	}
	for k := range p.Pull {
		if err := check(k); err != nil {
			return err
		}
	}
	return nil
}

// ToUpdate 翻译为 MongoDB 更新文档。调用前必须通过 Validate。
func (p Patch) ToUpdate() bson.M {
	u := bson.M{}
	if len(p.Set) > 0 {
		set := bson.M{}
		for k, v := range p.Set {
			set[k] = v
		}
		u["$set"] = set
	}
	if len(p.Unset) > 0 {
		unset := bson.M{}
		for _, k := range p.Unset {
			unset[k] = 1
		}
		u["$unset"] = unset
	}
	if len(p.Inc) > 0 {
		inc := bson.M{}
		for k, v := range p.Inc {
			inc[k] = v
		}
		u["$inc"] = inc
	}
	if len(p.AddToSet) > 0 {
		add := bson.M{}
		for k, v := range p.AddToSet {
			if vs, ok := v.([]string); ok {
				add[k] = bson.M{"$each": vs}
			} else {
				add[k] = v
			}
		}
		u["$addToSet"] = add
	}
	if len(p.Pull) > 0 {
		pull := bson.M{}
		for k, v := range p.Pull {
			pull[k] = v
		}
		u["$pull"] = pull
	}
	return u
}
