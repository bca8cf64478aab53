package lifecycle

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"bidlot/core/fault"
	"bidlot/models"
)

// validator 檢查商品欄位並清理描述中的 HTML
type validator struct {
	strict *bluemonday.Policy
	ugc    *bluemonday.Policy
}

func newValidator() *validator {
	return &validator{
		strict: bluemonday.StrictPolicy(),
		ugc:    bluemonday.UGCPolicy(),
	}
}

// name 回傳去除前後空白的名稱；名稱不可為空、不可超過長度限制，也不可包含標記
func (v *validator) name(errs *fault.Builder, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "",
		utf8.RuneCountInString(name) > models.MaxItemNameLength,
		html.UnescapeString(v.strict.Sanitize(name)) != name:
		errs.Add(fault.InvalidItemName)
	}
	return name
}

// description 回傳清理後的描述
func (v *validator) description(errs *fault.Builder, description string) string {
	description = strings.TrimSpace(v.ugc.Sanitize(description))
	errs.AddIf(utf8.RuneCountInString(description) > models.MaxItemDescriptionLength, fault.InvalidItemDescription)
	return description
}

func (v *validator) category(errs *fault.Builder, id uuid.UUID) {
	errs.AddIf(id == uuid.Nil, fault.InvalidItemCategory)
}

func (v *validator) price(errs *fault.Builder, price int64) {
	errs.AddIf(price <= 0, fault.InvalidItemPrice)
}

// pickupPlace 回傳正規化後的取貨地點
func (v *validator) pickupPlace(errs *fault.Builder, itemID uuid.UUID, place models.PickupPlace) *models.PickupPlace {
	out := &models.PickupPlace{
		ItemID:  itemID,
		Street:  strings.TrimSpace(place.Street),
		ZipCode: strings.ToUpper(strings.TrimSpace(place.ZipCode)),
		City:    strings.TrimSpace(place.City),
	}
	switch {
	case !validText(out.Street, models.MaxStreetLength),
		!validText(out.City, models.MaxCityLength),
		!validText(out.ZipCode, models.MaxZipCodeLength),
		strings.IndexFunc(out.ZipCode, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' && r != '-'
		}) >= 0,
		html.UnescapeString(v.strict.Sanitize(out.Street)) != out.Street,
		html.UnescapeString(v.strict.Sanitize(out.City)) != out.City:
		errs.Add(fault.InvalidPickupPlace)
	}
	return out
}

func validText(s string, max int) bool {
	return s != "" && utf8.RuneCountInString(s) <= max
}
