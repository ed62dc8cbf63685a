package domain

// DefaultCatalog returns the entries seeded into an empty product configuration catalog.
func DefaultCatalog() []CatalogEntry {
	devices := []string{
		"iPhone 15 Pro Max", "iPhone 15 Pro", "iPhone 15 Plus", "iPhone 15",
		"iPhone 14 Pro Max", "iPhone 14 Pro", "iPhone 14", "iPhone 13",
		"Samsung Galaxy S24 Ultra", "Samsung Galaxy S24", "Samsung Galaxy S23", "Google Pixel 8",
	}
	colors := []struct{ name, hex string }{
		{"Black", "#000000"}, {"White", "#FFFFFF"}, {"Gold", "#FFD700"}, {"Silver", "#C0C0C0"},
		{"Rose Gold", "#E8B4B8"}, {"Red", "#DC143C"}, {"Blue", "#1E90FF"}, {"Green", "#228B22"},
		{"Purple", "#8A2BE2"}, {"Pink", "#FF69B4"}, {"Orange", "#FF8C00"}, {"Navy", "#000080"},
	}
	fonts := []struct{ name, family string }{
		{"Pecita", "'Pecita', cursive"},
		{"Great Vibes", "'Great Vibes', cursive"},
		{"Dancing Script", "'Dancing Script', cursive"},
		{"Pacifico", "'Pacifico', cursive"},
		{"Montserrat", "'Montserrat', sans-serif"},
	}
	carriers := []struct {
		name   string
		active bool
	}{
		{"USPS", true}, {"UPS", true}, {"FedEx", true}, {"DHL", false},
	}

	entries := make([]CatalogEntry, 0, len(devices)+len(colors)+len(fonts)+len(carriers))
	for i, name := range devices {
		entries = append(entries, CatalogEntry{Kind: CatalogKindDevice, Name: name, Active: true, SortOrder: i})
	}
	for i, c := range colors {
		entries = append(entries, CatalogEntry{Kind: CatalogKindColor, Name: c.name, Attributes: map[string]string{"hex": c.hex}, Active: true, SortOrder: i})
	}
	for i, f := range fonts {
		entries = append(entries, CatalogEntry{Kind: CatalogKindFont, Name: f.name, Attributes: map[string]string{"family": f.family}, Active: true, SortOrder: i})
	}
	for i, c := range carriers {
		entries = append(entries, CatalogEntry{Kind: CatalogKindCarrier, Name: c.name, Active: c.active, SortOrder: i})
	}
	return entries
}
