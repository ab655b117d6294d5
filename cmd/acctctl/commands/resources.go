package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/eaccounting-client/pkg/client"
	"github.com/spf13/cobra"
)

// resourceKind adapts a typed collection to the untyped commands.
type resourceKind struct {
	name    string
	aliases []string
	columns []string

	// list reads up to limit items (0 = all) and returns them with their
	// table rows and the number of pages fetched
	list func(ctx context.Context, c *client.Client, opts client.ListOptions, limit int) (any, [][]string, int, error)

	// get fetches one item
	get func(ctx context.Context, c *client.Client, id string) (any, []string, error)

	// export writes every item as one JSON document per line
	export func(ctx context.Context, c *client.Client, opts client.ListOptions, w io.Writer) (int, error)
}

func kind[T any](name string, aliases []string, res func(*client.Client) *client.Resource[T], columns []string, row func(T) []string) resourceKind {
	return resourceKind{
		name:    name,
		aliases: aliases,
		columns: columns,
		list: func(ctx context.Context, c *client.Client, opts client.ListOptions, limit int) (any, [][]string, int, error) {
			stream := res(c).List(opts)
			items := []T{}
			var rows [][]string
			for (limit <= 0 || len(items) < limit) && stream.Next(ctx) {
				item := stream.Item()
				items = append(items, item)
				rows = append(rows, row(item))
			}
			return items, rows, stream.Pages(), stream.Err()
		},
		get: func(ctx context.Context, c *client.Client, id string) (any, []string, error) {
			item, err := res(c).Get(ctx, id)
			if err != nil {
				return nil, nil, err
			}
			return item, row(*item), nil
		},
		export: func(ctx context.Context, c *client.Client, opts client.ListOptions, w io.Writer) (int, error) {
			encoder := json.NewEncoder(w)
			n := 0
			for item, err := range res(c).List(opts).All(ctx) {
				if err != nil {
					return n, err
				}
				if err := encoder.Encode(item); err != nil {
					return n, fmt.Errorf("write %s: %w", name, err)
				}
				n++
			}
			return n, nil
		},
	}
}

func money(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

var resourceKinds = []resourceKind{
	kind("customers", []string{"customer"}, (*client.Client).Customers,
		[]string{"Id", "Number", "Name", "Email", "City", "Active"},
		func(c client.Customer) []string {
			return []string{c.Id, c.CustomerNumber, c.Name, c.EmailAddress, c.InvoiceCity, yesNo(c.IsActive)}
		}),
	kind("customerinvoices", []string{"invoices", "invoice"}, (*client.Client).CustomerInvoices,
		[]string{"Id", "Number", "Customer", "Date", "Due", "Total", "Remaining"},
		func(i client.CustomerInvoice) []string {
			return []string{i.Id, strconv.Itoa(i.InvoiceNumber), i.CustomerId, i.InvoiceDate, i.DueDate,
				money(i.TotalAmount), money(i.RemainingAmount)}
		}),
	kind("articles", []string{"article"}, (*client.Client).Articles,
		[]string{"Id", "Number", "Name", "Net Price", "Active"},
		func(a client.Article) []string {
			return []string{a.Id, a.Number, a.Name, money(a.NetPrice), yesNo(a.IsActive)}
		}),
	kind("suppliers", []string{"supplier"}, (*client.Client).Suppliers,
		[]string{"Id", "Number", "Name", "City", "Active"},
		func(s client.Supplier) []string {
			return []string{s.Id, s.SupplierNumber, s.Name, s.City, yesNo(s.IsActive)}
		}),
	kind("vouchers", []string{"voucher"}, (*client.Client).Vouchers,
		[]string{"Id", "Number", "Date", "Text", "Rows"},
		func(v client.Voucher) []string {
			return []string{v.Id, v.NumberAndNumberSeries, v.VoucherDate, v.VoucherText, strconv.Itoa(len(v.Rows))}
		}),
	kind("accounts", []string{"account"}, (*client.Client).Accounts,
		[]string{"Number", "Name", "Active"},
		func(a client.Account) []string {
			return []string{a.Number, a.Name, yesNo(a.IsActive)}
		}),
	kind("projects", []string{"project"}, (*client.Client).Projects,
		[]string{"Id", "Number", "Name", "Status", "Start", "End"},
		func(p client.Project) []string {
			return []string{p.Id, p.Number, p.Name, p.Status, p.StartDate, p.EndDate}
		}),
}

// lookupKind finds a resource by name or alias.
func lookupKind(name string) (resourceKind, error) {
	name = strings.ToLower(name)
	for _, k := range resourceKinds {
		if k.name == name {
			return k, nil
		}
		for _, a := range k.aliases {
			if a == name {
				return k, nil
			}
		}
	}
	return resourceKind{}, fmt.Errorf("unknown resource %q (available: %s)", name, strings.Join(kindNames(), ", "))
}

func kindNames() []string {
	names := make([]string, 0, len(resourceKinds))
	for _, k := range resourceKinds {
		names = append(names, k.name)
	}
	sort.Strings(names)
	return names
}

// NewResourcesCommand lists the collections the CLI knows.
func NewResourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List supported resources",
		Long:  "List the API collections that list, get and export accept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			type info struct {
				Name    string   `json:"name"`
				Aliases []string `json:"aliases"`
				Columns []string `json:"columns"`
			}
			var data []info
			var rows [][]string
			for _, k := range resourceKinds {
				data = append(data, info{Name: k.name, Aliases: k.aliases, Columns: k.columns})
				rows = append(rows, []string{k.name, strings.Join(k.aliases, ", ")})
			}
			return render(cmd.OutOrStdout(), data, []string{"Resource", "Aliases"}, rows)
		},
	}
}
