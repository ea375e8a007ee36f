package sevencloud

import "encoding/json"

// envelope is the gateway's uniform response wrapper.
type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Success bool            `json:"success"`
}

// loginData is the payload of a successful login response.
type loginData struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	CurrentToken string `json:"currentToken"`
}

// orderPageData is one page of the order listing endpoint.
type orderPageData struct {
	Records []orderData `json:"records"`
	Total   int64       `json:"total"`
	Size    int64       `json:"size"`
	Current int64       `json:"current"`
	Pages   int         `json:"pages"`
}

// orderData mirrors the upstream order row. Prices arrive as fractional
// dollars and are converted to cents at the boundary.
type orderData struct {
	ID          int64    `json:"id"`
	CreateDate  int64    `json:"createDate"`
	MemberCode  *string  `json:"memberCode"`
	Price       *float64 `json:"price"`
	ProductName string   `json:"productName"`
	ProductNo   *string  `json:"productNo"`
	Status      int      `json:"status"`
	PayType     *int     `json:"payType"`
}

// couponPageData is one page of the promo code listing endpoint.
type couponPageData struct {
	Records []couponData `json:"records"`
	Total   int64        `json:"total"`
	Size    int64        `json:"size"`
	Current int64        `json:"current"`
	Pages   int          `json:"pages"`
}

// couponData mirrors the upstream promo code row. The used flag is the
// string "1" or "0" and the code itself arrives numeric.
type couponData struct {
	ID         int64    `json:"id"`
	CreateDate int64    `json:"createDate"`
	Code       int64    `json:"code"`
	IsUse      string   `json:"isUse"`
	UseDate    *int64   `json:"useDate"`
	UseBy      *string  `json:"useBy"`
	Discount   float64  `json:"discount"`
}

// loginRequest is the login endpoint body. The password travels as an
// md5 hex digest, matching what the platform's own console sends.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// couponListRequest is the promo code listing endpoint body.
type couponListRequest struct {
	AdminID int64  `json:"adminId"`
	Current int    `json:"current"`
	Size    int    `json:"size"`
	IsUse   string `json:"isUse,omitempty"`
}
