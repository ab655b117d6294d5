package client

// Customer is an entry of /customers.
type Customer struct {
	Id                      string  `json:"Id,omitempty"`
	CustomerNumber          string  `json:"CustomerNumber,omitempty"`
	Name                    string  `json:"Name"`
	CorporateIdentityNumber string  `json:"CorporateIdentityNumber,omitempty"`
	EmailAddress            string  `json:"EmailAddress,omitempty"`
	InvoiceAddress1         string  `json:"InvoiceAddress1,omitempty"`
	InvoiceCity             string  `json:"InvoiceCity,omitempty"`
	InvoicePostalCode       string  `json:"InvoicePostalCode,omitempty"`
	InvoiceCountryCode      string  `json:"InvoiceCountryCode,omitempty"`
	IsPrivatePerson         bool    `json:"IsPrivatePerson"`
	IsActive                bool    `json:"IsActive"`
	TermsOfPaymentId        string  `json:"TermsOfPaymentId,omitempty"`
	ChangedUtc              string  `json:"ChangedUtc,omitempty"`
	CreditLimit             float64 `json:"CreditLimit,omitempty"`
}

// InvoiceRow is a line of a customer invoice.
type InvoiceRow struct {
	LineNumber         int     `json:"LineNumber"`
	ArticleId          string  `json:"ArticleId,omitempty"`
	Text               string  `json:"Text,omitempty"`
	UnitPrice          float64 `json:"UnitPrice"`
	Quantity           float64 `json:"Quantity"`
	DiscountPercentage float64 `json:"DiscountPercentage,omitempty"`
}

// CustomerInvoice is an entry of /customerinvoices.
type CustomerInvoice struct {
	Id              string       `json:"Id,omitempty"`
	InvoiceNumber   int          `json:"InvoiceNumber,omitempty"`
	CustomerId      string       `json:"CustomerId"`
	InvoiceDate     string       `json:"InvoiceDate,omitempty"`
	DueDate         string       `json:"DueDate,omitempty"`
	CurrencyCode    string       `json:"CurrencyCode,omitempty"`
	TotalAmount     float64      `json:"TotalAmount"`
	TotalVatAmount  float64      `json:"TotalVatAmount"`
	RemainingAmount float64      `json:"RemainingAmount"`
	Status          int          `json:"Status,omitempty"`
	YourReference   string       `json:"YourReference,omitempty"`
	Rows            []InvoiceRow `json:"Rows,omitempty"`
	ChangedUtc      string       `json:"ChangedUtc,omitempty"`
}

// Article is an entry of /articles.
type Article struct {
	Id           string  `json:"Id,omitempty"`
	Number       string  `json:"Number"`
	Name         string  `json:"Name"`
	NetPrice     float64 `json:"NetPrice"`
	GrossPrice   float64 `json:"GrossPrice"`
	UnitId       string  `json:"UnitId,omitempty"`
	CodingId     string  `json:"CodingId,omitempty"`
	IsActive     bool    `json:"IsActive"`
	IsStock      bool    `json:"IsStock"`
	StockBalance float64 `json:"StockBalance,omitempty"`
	ChangedUtc   string  `json:"ChangedUtc,omitempty"`
}

// Supplier is an entry of /suppliers.
type Supplier struct {
	Id                      string `json:"Id,omitempty"`
	SupplierNumber          string `json:"SupplierNumber,omitempty"`
	Name                    string `json:"Name"`
	CorporateIdentityNumber string `json:"CorporateIdentityNumber,omitempty"`
	EmailAddress            string `json:"EmailAddress,omitempty"`
	Address1                string `json:"Address1,omitempty"`
	City                    string `json:"City,omitempty"`
	PostalCode              string `json:"PostalCode,omitempty"`
	CountryCode             string `json:"CountryCode,omitempty"`
	BankAccountNumber       string `json:"BankAccountNumber,omitempty"`
	IsActive                bool   `json:"IsActive"`
	ChangedUtc              string `json:"ChangedUtc,omitempty"`
}

// VoucherRow is a booking line of a voucher.
type VoucherRow struct {
	AccountNumber      int     `json:"AccountNumber"`
	AccountDescription string  `json:"AccountDescription,omitempty"`
	DebitAmount        float64 `json:"DebitAmount"`
	CreditAmount       float64 `json:"CreditAmount"`
	TransactionText    string  `json:"TransactionText,omitempty"`
	ProjectId          string  `json:"ProjectId,omitempty"`
}

// Voucher is an entry of /vouchers.
type Voucher struct {
	Id                    string       `json:"Id,omitempty"`
	VoucherDate           string       `json:"VoucherDate"`
	VoucherText           string       `json:"VoucherText"`
	NumberAndNumberSeries string       `json:"NumberAndNumberSeries,omitempty"`
	VoucherType           int          `json:"VoucherType,omitempty"`
	Rows                  []VoucherRow `json:"Rows"`
	ModifiedUtc           string       `json:"ModifiedUtc,omitempty"`
}

// Account is an entry of the chart of accounts.
type Account struct {
	Number           string `json:"Number"`
	Name             string `json:"Name"`
	VatCodeId        string `json:"VatCodeId,omitempty"`
	FiscalYearId     string `json:"FiscalYearId,omitempty"`
	IsActive         bool   `json:"IsActive"`
	IsProjectAllowed bool   `json:"IsProjectAllowed"`
	ChangedUtc       string `json:"ChangedUtc,omitempty"`
}

// Project is an entry of /projects.
type Project struct {
	Id          string `json:"Id,omitempty"`
	Number      string `json:"Number"`
	Name        string `json:"Name"`
	StartDate   string `json:"StartDate,omitempty"`
	EndDate     string `json:"EndDate,omitempty"`
	CustomerId  string `json:"CustomerId,omitempty"`
	Status      string `json:"Status,omitempty"`
	Notes       string `json:"Notes,omitempty"`
	ModifiedUtc string `json:"ModifiedUtc,omitempty"`
}

// Customers returns the /customers resource.
func (c *Client) Customers() *Resource[Customer] {
	return NewResource[Customer](c, "customers", "/customers")
}

// CustomerInvoices returns the /customerinvoices resource.
func (c *Client) CustomerInvoices() *Resource[CustomerInvoice] {
	return NewResource[CustomerInvoice](c, "customerinvoices", "/customerinvoices")
}

// Articles returns the /articles resource.
func (c *Client) Articles() *Resource[Article] {
	return NewResource[Article](c, "articles", "/articles")
}

// Suppliers returns the /suppliers resource.
func (c *Client) Suppliers() *Resource[Supplier] {
	return NewResource[Supplier](c, "suppliers", "/suppliers")
}

// Vouchers returns the /vouchers resource.
func (c *Client) Vouchers() *Resource[Voucher] {
	return NewResource[Voucher](c, "vouchers", "/vouchers")
}

// Accounts returns the /accounts resource. Items are addressed by account number.
func (c *Client) Accounts() *Resource[Account] {
	return NewResource[Account](c, "accounts", "/accounts")
}

// Projects returns the /projects resource.
func (c *Client) Projects() *Resource[Project] {
	return NewResource[Project](c, "projects", "/projects")
}
