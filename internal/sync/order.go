package sync

import "github.com/xelth-com/posync/internal/models"

// TableOrder is the order in which a push applies tables. A table may only
// hold checked references to tables at or before its own position, so
// parents created in the same batch exist before their children.
var TableOrder = []string{
	models.TableProducts,
	models.TableClients,
	models.TableWarehouses,
	models.TableCategories,
	models.TableSuppliers,
	models.TableTransactions,
	models.TableAccounts,
	models.TableExpenses,
	models.TableMovements,
	models.TableEmployees,
	models.TableAttendances,
	models.TableSalaryAdvances,
	models.TablePayrolls,
	models.TableRoles,
	models.TablePermissions,
}

// IsKnownTable reports whether a push processes the table.
func IsKnownTable(name string) bool {
	for _, t := range TableOrder {
		if t == name {
			return true
		}
	}
	return false
}
