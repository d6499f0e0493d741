package services

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/lumen-studio/booking/internal/domain"
)

// Bundled defaults shown when the catalog collections are unreachable or empty.

func reais(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

var staticPackages = []Package{
	{ID: "portrait-essential", Category: domain.CategoryPortrait, Title: "Retrato Essencial", Price: reais(350), Duration: "1 hora",
		Description: "Sessão individual em estúdio.", Features: []string{"15 fotos editadas", "1 troca de roupa"}, Section: "estudio", Active: true},
	{ID: "portrait-prewedding-basic", Category: domain.CategoryPortrait, Title: "Pré-wedding Básico", Price: reais(400), Duration: "2 horas",
		Description: "Ensaio de casal em locação externa.", Features: []string{"30 fotos editadas", "Galeria online"}, Section: "casais", Active: true},
	{ID: "portrait-prewedding-premium", Category: domain.CategoryPortrait, Title: "Pré-wedding Premium", Price: reais(900), Duration: "4 horas",
		Description: "Ensaio de casal com duas locações.", Features: []string{"80 fotos editadas", "Álbum 20x20", "Galeria online"}, Section: "casais", Active: true},
	{ID: "portrait-prewedding-teaser", Category: domain.CategoryPortrait, Title: "Pré-wedding Teaser", Price: reais(600), Duration: "2 horas",
		Description: "Ensaio com vídeo teaser de um minuto.", Features: []string{"20 fotos editadas", "Vídeo teaser"}, Section: "casais", Active: true},
	{ID: "maternity-classic", Category: domain.CategoryMaternity, Title: "Gestante Clássico", Price: reais(450), Duration: "1h30",
		Description: "Ensaio de gestante em estúdio.", Features: []string{"25 fotos editadas", "Figurino incluso"}, Active: true},
	{ID: "maternity-newborn", Category: domain.CategoryMaternity, Title: "Newborn", Price: reais(650), Duration: "3 horas",
		Description: "Sessão com recém-nascido até 15 dias.", Features: []string{"30 fotos editadas", "Acessórios inclusos"}, Active: true},
	{ID: "events-birthday", Category: domain.CategoryEvents, Title: "Aniversário", Price: reais(1200), Duration: "4 horas",
		Description: "Cobertura fotográfica de festa.", Features: []string{"Fotos ilimitadas", "Galeria online"}, Active: true},
	{ID: "events-wedding", Category: domain.CategoryEvents, Title: "Casamento", Price: reais(3500), Duration: "8 horas",
		Description: "Cerimônia e recepção.", Features: []string{"Fotos ilimitadas", "Álbum 30x30", "Segundo fotógrafo"}, Active: true},
}

var staticProducts = []Product{
	{ID: "album-20x20", Name: "Álbum 20x20", Price: reais(280), Description: "Álbum laminado com 20 páginas.", Active: true},
	{ID: "frame-30x40", Name: "Quadro 30x40", Price: reais(180), Description: "Impressão fine art com moldura.", Active: true},
	{ID: "prints-10", Name: "Kit 10 impressões", Price: reais(90), Description: "Impressões 15x21 em papel fotográfico.", Active: true},
	{ID: "usb-box", Name: "Caixa com pendrive", Price: reais(120), Description: "Todas as fotos em alta resolução.", Active: true},
}

var staticReviews = []Review{
	{ID: "static-1", Author: "Juliana M.", Rating: 5, Text: "Equipe atenciosa e fotos lindas.", EventType: string(domain.CategoryMaternity),
		CreatedAt: time.Date(2024, 11, 3, 0, 0, 0, 0, time.UTC)},
	{ID: "static-2", Author: "Rafael e Bia", Rating: 5, Text: "O ensaio pré-wedding superou nossas expectativas.", EventType: string(domain.CategoryPortrait),
		CreatedAt: time.Date(2024, 9, 14, 0, 0, 0, 0, time.UTC)},
	{ID: "static-3", Author: "Carla S.", Rating: 4, Text: "Entrega rápida e álbum muito bem acabado.", EventType: string(domain.CategoryEvents),
		CreatedAt: time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)},
}

func staticPackagesFor(category domain.Category) []Package {
	out := make([]Package, 0, len(staticPackages))
	for _, pkg := range staticPackages {
		if category == "" || pkg.Category == category {
			out = append(out, pkg)
		}
	}
	return out
}
