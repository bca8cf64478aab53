// Package fault 定義拍賣核心的錯誤種類
//
// 驗證錯誤會累積成不可變的 Set 一次回報給呼叫者，
// 基礎設施錯誤則包裝成 OpError 保留底層原因。
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Class 是錯誤種類的分群
type Class int

const (
	ClassValidation Class = iota
	ClassIntegrity
	ClassNotFound
	ClassInfrastructure
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassIntegrity:
		return "integrity"
	case ClassNotFound:
		return "not_found"
	case ClassInfrastructure:
		return "infrastructure"
	}
	return "unknown"
}

// Kind 是單一錯誤種類，本身即實作 error，可直接用於 errors.Is
type Kind string

const (
	// 驗證錯誤
	InvalidItemName        Kind = "InvalidItemName"
	InvalidItemDescription Kind = "InvalidItemDescription"
	InvalidItemCategory    Kind = "InvalidItemCategory"
	InvalidItemPrice       Kind = "InvalidItemPrice"
	InvalidItemSeller      Kind = "InvalidItemSeller"
	InvalidStartDate       Kind = "InvalidStartDate"
	InvalidEndDate         Kind = "InvalidEndDate"
	InvalidPickupPlace     Kind = "InvalidPickupPlace"
	FieldNotEditable       Kind = "FieldNotEditable"
	InvalidBidUser         Kind = "InvalidBidUser"
	InvalidBidItem         Kind = "InvalidBidItem"
	InvalidBidPrice        Kind = "InvalidBidPrice"
	InsufficientCredit     Kind = "InsufficientCredit"
	InvalidCreditAmount    Kind = "InvalidCreditAmount"
	UserHasSoldItems       Kind = "UserHasSoldItems"

	// 資料完整性錯誤
	InvalidItemState      Kind = "InvalidItemState"
	UnknownEntityProperty Kind = "UnknownEntityProperty"

	// 找不到資料
	ItemNotFound Kind = "ItemNotFound"
	BidNotFound  Kind = "BidNotFound"
	UserNotFound Kind = "UserNotFound"

	// 基礎設施錯誤
	OperationFailed Kind = "OperationFailed"
)

var classes = map[Kind]Class{
	InvalidItemState:      ClassIntegrity,
	UnknownEntityProperty: ClassIntegrity,
	ItemNotFound:          ClassNotFound,
	BidNotFound:           ClassNotFound,
	UserNotFound:          ClassNotFound,
	OperationFailed:       ClassInfrastructure,
}

func (k Kind) Error() string {
	return string(k)
}

// Class 回傳錯誤種類所屬的分群，未列出者皆為驗證錯誤
func (k Kind) Class() Class {
	if c, ok := classes[k]; ok {
		return c
	}
	return ClassValidation
}

// Set 是有序且不可變的錯誤種類集合
type Set struct {
	kinds []Kind
}

// New 以給定順序建立 Set，重複的種類只保留第一次出現
func New(kinds ...Kind) *Set {
	s := &Set{kinds: make([]Kind, 0, len(kinds))}
	for _, k := range kinds {
		if !s.Has(k) {
			s.kinds = append(s.kinds, k)
		}
	}
	return s
}

// Kinds 回傳種類的複本
func (s *Set) Kinds() []Kind {
	out := make([]Kind, len(s.kinds))
	copy(out, s.kinds)
	return out
}

func (s *Set) Len() int {
	return len(s.kinds)
}

func (s *Set) Has(k Kind) bool {
	for _, existing := range s.kinds {
		if existing == k {
			return true
		}
	}
	return false
}

// Class 回傳集合中最嚴重的分群
func (s *Set) Class() Class {
	worst := ClassValidation
	for _, k := range s.kinds {
		if c := k.Class(); c > worst {
			worst = c
		}
	}
	return worst
}

func (s *Set) Error() string {
	parts := make([]string, len(s.kinds))
	for i, k := range s.kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

// Is 讓 errors.Is(err, fault.InvalidBidPrice) 可以比對集合中的任一種類
func (s *Set) Is(target error) bool {
	var k Kind
	if errors.As(target, &k) {
		return s.Has(k)
	}
	return false
}

// Builder 用於在驗證過程中累積錯誤，Err 產生的 Set 與 Builder 之後的變動無關
type Builder struct {
	kinds []Kind
}

func (b *Builder) Add(k Kind) *Builder {
	b.kinds = append(b.kinds, k)
	return b
}

func (b *Builder) AddIf(cond bool, k Kind) *Builder {
	if cond {
		b.kinds = append(b.kinds, k)
	}
	return b
}

// Merge 將另一個錯誤中的種類併入，非 fault 錯誤會被忽略並回傳 false
func (b *Builder) Merge(err error) bool {
	kinds := KindsOf(err)
	if len(kinds) == 0 {
		return false
	}
	b.kinds = append(b.kinds, kinds...)
	return true
}

func (b *Builder) HasError() bool {
	return len(b.kinds) > 0
}

func (b *Builder) Err() error {
	if len(b.kinds) == 0 {
		return nil
	}
	return New(b.kinds...)
}

// OpError 包裝持久層或逾時等基礎設施錯誤，保留原因供診斷
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("[%s] Unable to complete operation, err=%v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func (e *OpError) Is(target error) bool {
	return target == OperationFailed
}

// Wrap 將非領域錯誤包成 OpError；驗證、完整性與找不到資料的錯誤原樣傳回
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomain(err) {
		return err
	}
	return &OpError{Op: op, Err: err}
}

// IsDomain 判斷錯誤是否屬於 fault 定義的種類（不含基礎設施錯誤）
func IsDomain(err error) bool {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return false
	}
	return len(KindsOf(err)) > 0
}

// KindsOf 取出錯誤中包含的所有種類
func KindsOf(err error) []Kind {
	if err == nil {
		return nil
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return []Kind{OperationFailed}
	}
	var set *Set
	if errors.As(err, &set) {
		return set.Kinds()
	}
	var k Kind
	if errors.As(err, &k) {
		return []Kind{k}
	}
	return nil
}

// ClassOf 回傳錯誤最嚴重的分群，未知錯誤視為基礎設施錯誤
func ClassOf(err error) Class {
	kinds := KindsOf(err)
	if len(kinds) == 0 {
		return ClassInfrastructure
	}
	return New(kinds...).Class()
}
