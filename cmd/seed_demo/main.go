package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/xelth-com/posync/internal/config"
	"github.com/xelth-com/posync/internal/database"
	"github.com/xelth-com/posync/internal/models"
	"github.com/xelth-com/posync/internal/store"
)

type seed struct {
	table string
	label string
	data  string
}

// Parents come before children so references resolve
var demo = []seed{
	{models.TableCategories, "Beverages", `{"id":"demo-cat-beverages","name":"Beverages"}`},
	{models.TableCategories, "Snacks", `{"id":"demo-cat-snacks","name":"Snacks"}`},
	{models.TableSuppliers, "Nordic Drinks GmbH", `{"id":"demo-sup-nordic","name":"Nordic Drinks GmbH","email":"orders@nordic.example"}`},
	{models.TableWarehouses, "Main store", `{"id":"demo-wh-main","name":"Main store","isActive":true}`},
	{models.TableWarehouses, "Back room", `{"id":"demo-wh-back","name":"Back room","isActive":true}`},
	{models.TableProducts, "Cola 0.5l", `{"id":"demo-prod-cola","name":"Cola 0.5l","sku":"COLA-05","barcode":"4001234500017","categoryId":"demo-cat-beverages","supplierId":"demo-sup-nordic","price":"1.90","cost":"0.80","stock":48,"minStock":12,"unit":"pcs","active":true}`},
	{models.TableProducts, "Sparkling water 1l", `{"id":"demo-prod-water","name":"Sparkling water 1l","sku":"WATER-1","barcode":"4001234500024","categoryId":"demo-cat-beverages","supplierId":"demo-sup-nordic","price":"0.99","cost":"0.30","stock":60,"minStock":20,"unit":"pcs","active":true}`},
	{models.TableProducts, "Salted pretzels", `{"id":"demo-prod-pretzel","name":"Salted pretzels","sku":"PRETZ-200","barcode":"4001234500031","categoryId":"demo-cat-snacks","price":"2.49","cost":"1.10","stock":25,"minStock":5,"unit":"pcs","active":true}`},
	{models.TableClients, "Walk-in customer", `{"id":"demo-client-walkin","name":"Walk-in customer"}`},
	{models.TableClients, "Café Lindner", `{"id":"demo-client-lindner","name":"Café Lindner","email":"buy@lindner.example","creditLimit":"500"}`},
	{models.TableAccounts, "Cash drawer", `{"id":"demo-acc-cash","name":"Cash drawer","type":"cash"}`},
	{models.TableEmployees, "Alex Meyer", `{"id":"demo-emp-alex","firstName":"Alex","lastName":"Meyer","position":"Cashier","salary":"2400"}`},
	{models.TableRoles, "Cashier", `{"id":"demo-role-cashier","name":"Cashier"}`},
	{models.TablePermissions, "sales.create", `{"id":"demo-perm-sales","code":"sales.create"}`},
	{models.TablePermissions, "stock.adjust", `{"id":"demo-perm-stock","code":"stock.adjust"}`},
}

func main() {
	fmt.Println("🌱 POS Demo Data Seeder")
	fmt.Println(strings.Repeat("=", 60))

	orgID := os.Getenv("ORGANIZATION_ID")
	if orgID == "" {
		orgID = "demo"
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	st := store.New(db.DB)
	if err := st.Migrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	fmt.Println("✅ Connected and migrated")
	fmt.Println()

	ctx := context.Background()
	org := st.ForOrganization(orgID)

	created, skipped := 0, 0
	fmt.Printf("📦 Seeding organization %q...\n", orgID)
	for _, s := range demo {
		_, err := org.Create(ctx, s.table, json.RawMessage(s.data))
		switch {
		case err == nil:
			created++
			fmt.Printf("   ✓ %-12s %s\n", s.table, s.label)
		case errors.Is(err, store.ErrValidation) && strings.Contains(err.Error(), "already exists"):
			skipped++
			fmt.Printf("   - %-12s %s (exists)\n", s.table, s.label)
		default:
			log.Printf("⚠️  Failed to create %s %s: %v", s.table, s.label, err)
		}
	}

	if err := org.AssignPermissions(ctx, "demo-role-cashier", []string{"demo-perm-sales", "demo-perm-stock"}); err != nil {
		log.Printf("⚠️  Failed to assign cashier permissions: %v", err)
	} else {
		fmt.Println("   ✓ Cashier permissions assigned")
	}

	fmt.Println()
	fmt.Printf("✅ Done: %d created, %d already present\n", created, skipped)
}
